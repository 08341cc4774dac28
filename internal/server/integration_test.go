package server

import (
	"context"
	"net"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	apiv1 "github.com/mundrapranay/dcore/api/v1"
	"github.com/mundrapranay/dcore/algorithms/common"
	"github.com/mundrapranay/dcore/algorithms/dcore"
	"github.com/mundrapranay/dcore/algorithms/incore"
	"github.com/mundrapranay/dcore/internal/fragment"
	"github.com/mundrapranay/dcore/internal/worker"
	"github.com/mundrapranay/dcore/pkg/client"
)

// setupTestServerWithGRPC sets up a complete server with a gRPC endpoint.
func setupTestServerWithGRPC(t *testing.T, retain uint64) string {
	t.Helper()
	server, _ := setupTestServer(t, retain)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	grpcSrv := grpc.NewServer()
	apiv1.RegisterCoordinationServiceServer(grpcSrv, server)
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			t.Logf("gRPC server error: %v", err)
		}
	}()
	t.Cleanup(grpcSrv.Stop)

	return lis.Addr().String()
}

func createTestClient(t *testing.T, addr string) *client.Client {
	t.Helper()
	c, err := client.NewClient(addr)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	c.MaxWait = 10 * time.Second
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClient_RoundOverGRPC(t *testing.T) {
	addr := setupTestServerWithGRPC(t, 0)
	c := createTestClient(t, addr)
	ctx := context.Background()

	if err := c.StartRound(ctx, 0, 2); err != nil {
		t.Fatalf("StartRound failed: %v", err)
	}
	if err := c.PublishValues(ctx, 0, "worker-0", map[string][]byte{"k": []byte("v")}); err != nil {
		t.Fatalf("PublishValues failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		value, err := c.WaitValue(ctx, 0, "k")
		if err == nil && string(value) != "v" {
			t.Errorf("Unexpected value %q", value)
		}
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := c.PublishValues(ctx, 0, "worker-1", nil); err != nil {
		t.Fatalf("PublishValues failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WaitValue failed: %v", err)
	}

	if _, err := c.WaitValue(ctx, 0, "missing"); err == nil {
		t.Fatal("WaitValue of a missing key should fail")
	}
}

func TestClient_WaitValueHonoursContext(t *testing.T) {
	addr := setupTestServerWithGRPC(t, 0)
	c := createTestClient(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := c.StartRound(ctx, 0, 2); err != nil {
		t.Fatalf("StartRound failed: %v", err)
	}
	if _, err := c.WaitValue(ctx, 0, apiv1.RoundVotesKey); err == nil {
		t.Fatal("WaitValue on a round that never seals should fail")
	}
}

// runDistributed runs every fragment of g as its own worker, each with its
// own connection to the coordinator.
func runDistributed(t *testing.T, addr string, g *common.GraphData, workers int, newApp func() common.App, params common.Parameters) []common.App {
	t.Helper()
	owner, err := common.Owner(workers, nil)
	if err != nil {
		t.Fatalf("Owner failed: %v", err)
	}

	apps := make([]common.App, workers)
	eg, ctx := errgroup.WithContext(context.Background())
	for fid := 0; fid < workers; fid++ {
		fid := fid
		frag, err := fragment.Build(fid, workers, g, owner)
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		apps[fid] = newApp()
		ex := client.NewExchanger(createTestClient(t, addr), fid, workers, nil)
		w := worker.New(apps[fid], frag, ex, worker.Options{Threads: 2, Params: params}, nil)
		eg.Go(func() error {
			_, err := w.Run(ctx)
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatalf("Distributed run failed: %v", err)
	}
	return apps
}

func testGraph() *common.GraphData {
	edges := []common.Edge{
		{U: 0, V: 1}, {U: 1, V: 2}, {U: 2, V: 0},
		{U: 1, V: 0}, {U: 2, V: 1}, {U: 0, V: 2},
		{U: 2, V: 3}, {U: 3, V: 4}, {U: 4, V: 2},
		{U: 5, V: 0}, {U: 6, V: 5},
	}
	return common.NewGraphData(edges, []int64{9}, nil)
}

func TestDistributed_SkylineCore(t *testing.T) {
	addr := setupTestServerWithGRPC(t, 2)
	g := testGraph()
	params := common.Parameters{"seed": dcore.SeedDegree}

	cfg := &common.AlgorithmConfig{
		AlgorithmName: dcore.Name,
		WorkerConfig:  common.WorkerConfig{NumWorkers: 3, Threads: 2},
		Parameters:    params,
	}
	local, err := worker.RunCluster(context.Background(), g, cfg, nil)
	if err != nil {
		t.Fatalf("RunCluster failed: %v", err)
	}

	apps := runDistributed(t, addr, g, 3, func() common.App { return dcore.New() }, params)
	for fid := range apps {
		want := local.Apps[fid].(*dcore.App).Skylines()
		got := apps[fid].(*dcore.App).Skylines()
		if len(got) != len(want) {
			t.Fatalf("fragment %d: %d vertices, want %d", fid, len(got), len(want))
		}
		for id, s := range want {
			if !got[id].Equal(s) {
				t.Fatalf("vertex %d: distributed %v, local %v", id, got[id], s)
			}
		}
	}
}

func TestDistributed_InCoreness(t *testing.T) {
	addr := setupTestServerWithGRPC(t, 1)
	g := testGraph()

	apps := runDistributed(t, addr, g, 2, func() common.App { return incore.New() }, nil)
	got := make(map[int64]int32)
	for _, app := range apps {
		for id, c := range app.(*incore.App).Coreness() {
			got[id] = c
		}
	}

	want := map[int64]int32{0: 2, 1: 2, 2: 2, 3: 1, 4: 1, 5: 0, 6: 0, 9: 0}
	for id, c := range want {
		if got[id] != c {
			t.Fatalf("vertex %d: coreness %d, want %d", id, got[id], c)
		}
	}
}

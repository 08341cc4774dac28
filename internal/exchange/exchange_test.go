package exchange

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestOutboxVotes(t *testing.T) {
	if v := (Outbox{}).Votes(); v != 0 {
		t.Fatalf("expected 0 votes for an idle outbox, got %d", v)
	}
	if v := (Outbox{Sent: 3, Active: true}).Votes(); v != 4 {
		t.Fatalf("expected 4 votes, got %d", v)
	}
}

func TestHub_RoutesBatchesAndSumsVotes(t *testing.T) {
	const n = 3
	hub := NewHub(n)
	ctx := context.Background()

	inboxes := make([]Inbox, n)
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for fid := 0; fid < n; fid++ {
		wg.Add(1)
		go func(fid int) {
			defer wg.Done()
			out := Outbox{Batches: map[int][]byte{}, Sent: int64(fid)}
			// Everyone sends one batch to the next fragment.
			out.Batches[(fid+1)%n] = []byte{byte(fid)}
			in, err := hub.Endpoint(fid).Exchange(ctx, 1, out)
			if err != nil {
				errs <- err
				return
			}
			inboxes[fid] = in
		}(fid)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Exchange failed: %v", err)
	}

	for fid, in := range inboxes {
		if in.Votes != 0+1+2 {
			t.Fatalf("fragment %d: expected 3 votes, got %d", fid, in.Votes)
		}
		if len(in.Batches) != 1 {
			t.Fatalf("fragment %d: expected 1 batch, got %d", fid, len(in.Batches))
		}
		from := (fid + n - 1) % n
		if in.Batches[0][0] != byte(from) {
			t.Fatalf("fragment %d: expected batch from %d, got %v", fid, from, in.Batches[0])
		}
	}

	hub.mu.Lock()
	left := len(hub.rounds)
	hub.mu.Unlock()
	if left != 0 {
		t.Fatalf("expected finished rounds to be released, %d left", left)
	}
}

func TestHub_SingleFragmentActiveVote(t *testing.T) {
	hub := NewHub(1)
	in, err := hub.Endpoint(0).Exchange(context.Background(), 0, Outbox{Active: true})
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if in.Votes != 1 {
		t.Fatalf("expected a forced round to keep the run alive, got %d votes", in.Votes)
	}
}

func TestHub_CancelledWait(t *testing.T) {
	hub := NewHub(2)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := hub.Endpoint(0).Exchange(ctx, 0, Outbox{})
	if err == nil {
		t.Fatal("expected the barrier to fail when the peer never arrives")
	}
}

func TestHub_UnknownDestination(t *testing.T) {
	hub := NewHub(1)
	_, err := hub.Endpoint(0).Exchange(context.Background(), 0, Outbox{Batches: map[int][]byte{4: {1}}})
	if err == nil {
		t.Fatal("expected error for an unknown destination")
	}
}

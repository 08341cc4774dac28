// Package messaging buffers the vertex state an algorithm sends during a
// round and hands inbound state back to it, sharded by destination vertex.
package messaging

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/mundrapranay/dcore/algorithms/common"
	"github.com/mundrapranay/dcore/internal/exchange"
	"github.com/mundrapranay/dcore/internal/fragment"
)

// Manager implements common.MessageManager for one fragment.
type Manager struct {
	frag     *fragment.Fragment
	channels []*Channel
	forced   atomic.Bool
	inbox    [][]byte
	logger   hclog.Logger
}

var _ common.MessageManager = (*Manager)(nil)

// NewManager creates a manager for frag.
func NewManager(frag *fragment.Fragment, logger hclog.Logger) *Manager {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	m := &Manager{frag: frag, logger: logger}
	m.InitChannels(1)
	return m
}

// Channel buffers messages per destination fragment.
type Channel struct {
	frag *fragment.Fragment
	bufs [][]byte
	sent int64
}

var _ common.MessageChannel = (*Channel)(nil)

func (c *Channel) SendMsgThroughEdges(v common.Vertex, payload []byte) {
	c.send(c.frag.IOEDests(v), v, payload)
}

func (c *Channel) SendMsgThroughOEdges(v common.Vertex, payload []byte) {
	c.send(c.frag.OEDests(v), v, payload)
}

func (c *Channel) send(dests []int, v common.Vertex, payload []byte) {
	gid := c.frag.GetID(v)
	for _, d := range dests {
		c.bufs[d] = appendMessage(c.bufs[d], gid, payload)
		c.sent++
	}
}

func (c *Channel) reset() {
	for i := range c.bufs {
		c.bufs[i] = c.bufs[i][:0]
	}
	c.sent = 0
}

func (m *Manager) InitChannels(n int) {
	if n < 1 {
		n = 1
	}
	m.channels = make([]*Channel, n)
	for i := range m.channels {
		m.channels[i] = &Channel{
			frag: m.frag,
			bufs: make([][]byte, m.frag.FragmentNum()),
		}
	}
}

func (m *Manager) Channels() []common.MessageChannel {
	out := make([]common.MessageChannel, len(m.channels))
	for i, c := range m.channels {
		out[i] = c
	}
	return out
}

func (m *Manager) ForceContinue() {
	m.forced.Store(true)
}

// Drain collects everything sent since the last drain and clears the
// channels and the continuation flag.
func (m *Manager) Drain() exchange.Outbox {
	out := exchange.Outbox{
		Batches: make(map[int][]byte),
		Active:  m.forced.Swap(false),
	}
	for _, c := range m.channels {
		for dst, buf := range c.bufs {
			if len(buf) == 0 {
				continue
			}
			out.Batches[dst] = append(out.Batches[dst], buf...)
		}
		out.Sent += c.sent
		c.reset()
	}
	m.logger.Trace("drained outbox", "fragment", m.frag.FID(), "messages", out.Sent, "active", out.Active)
	return out
}

// Deliver stages inbound batches for the next ParallelProcess.
func (m *Manager) Deliver(in exchange.Inbox) {
	m.inbox = in.Batches
}

type inbound struct {
	v       common.Vertex
	payload []byte
}

func (m *Manager) ParallelProcess(ctx context.Context, n int, fn func(tid int, v common.Vertex, payload []byte) error) error {
	if n < 1 {
		n = 1
	}
	batches := m.inbox
	m.inbox = nil

	shards := make([][]inbound, n)
	for _, batch := range batches {
		err := decodeBatch(batch, func(gid int64, payload []byte) error {
			v, ok := m.frag.GetVertex(gid)
			if !ok {
				return fmt.Errorf("message for vertex %d unknown to fragment %d: %w", gid, m.frag.FID(), common.ErrInvalidArgument)
			}
			shard := int(v) % n
			shards[shard] = append(shards[shard], inbound{v: v, payload: payload})
			return nil
		})
		if err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for tid := range shards {
		tid := tid
		g.Go(func() error {
			for _, msg := range shards[tid] {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := fn(tid, msg.v, msg.payload); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

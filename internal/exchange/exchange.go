// Package exchange moves message batches between fragments at the end of a
// round and decides, from the global vote count, whether another round runs.
package exchange

import (
	"context"
	"fmt"
	"sync"
)

// Outbox is what one fragment contributes to a round.
type Outbox struct {
	// Encoded batches keyed by destination fragment.
	Batches map[int][]byte

	// Messages written into Batches.
	Sent int64

	// Set when the fragment forced continuation.
	Active bool
}

// Votes is the fragment's activity for the round: every message sent, plus
// one if it asked for another round.
func (o Outbox) Votes() int64 {
	v := o.Sent
	if o.Active {
		v++
	}
	return v
}

// Inbox is what one fragment receives from a round.
type Inbox struct {
	// Batches addressed to the fragment, one per sending fragment.
	Batches [][]byte

	// Sum of every fragment's votes. Zero means the computation is done.
	Votes int64
}

// Exchanger is a global barrier: Exchange returns once every fragment has
// submitted its outbox for round.
type Exchanger interface {
	Exchange(ctx context.Context, round int, out Outbox) (Inbox, error)
}

// Hub exchanges batches between fragments running in one process.
type Hub struct {
	n      int
	mu     sync.Mutex
	rounds map[int]*hubRound
}

type hubRound struct {
	arrived   int
	collected int
	mail      [][][]byte
	votes     int64
	done      chan struct{}
}

// NewHub creates a hub for n fragments.
func NewHub(n int) *Hub {
	return &Hub{n: n, rounds: make(map[int]*hubRound)}
}

// Endpoint returns the exchanger fragment fid uses.
func (h *Hub) Endpoint(fid int) Exchanger {
	return &endpoint{hub: h, fid: fid}
}

func (h *Hub) round(r int) *hubRound {
	hr, ok := h.rounds[r]
	if !ok {
		hr = &hubRound{
			mail: make([][][]byte, h.n),
			done: make(chan struct{}),
		}
		h.rounds[r] = hr
	}
	return hr
}

type endpoint struct {
	hub *Hub
	fid int
}

func (e *endpoint) Exchange(ctx context.Context, round int, out Outbox) (Inbox, error) {
	h := e.hub

	h.mu.Lock()
	hr := h.round(round)
	for dst, batch := range out.Batches {
		if dst < 0 || dst >= h.n {
			h.mu.Unlock()
			return Inbox{}, fmt.Errorf("round %d: fragment %d sent to unknown fragment %d", round, e.fid, dst)
		}
		if len(batch) > 0 {
			hr.mail[dst] = append(hr.mail[dst], batch)
		}
	}
	hr.votes += out.Votes()
	hr.arrived++
	if hr.arrived == h.n {
		close(hr.done)
	}
	h.mu.Unlock()

	select {
	case <-hr.done:
	case <-ctx.Done():
		return Inbox{}, ctx.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	in := Inbox{Batches: hr.mail[e.fid], Votes: hr.votes}
	hr.collected++
	if hr.collected == h.n {
		delete(h.rounds, round)
	}
	return in, nil
}

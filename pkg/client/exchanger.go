package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apiv1 "github.com/mundrapranay/dcore/api/v1"
	"github.com/mundrapranay/dcore/internal/exchange"
)

// Exchanger runs the round barrier of one fragment through the
// coordination service: each round is published as mailboxes plus a vote,
// and read back once every fragment has published.
type Exchanger struct {
	client *Client
	fid    int
	fnum   int
	worker string
	logger hclog.Logger
}

// NewExchanger returns the exchanger of fragment fid out of fnum.
func NewExchanger(c *Client, fid, fnum int, logger hclog.Logger) *Exchanger {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Exchanger{
		client: c,
		fid:    fid,
		fnum:   fnum,
		worker: fmt.Sprintf("worker-%d", fid),
		logger: logger,
	}
}

var _ exchange.Exchanger = (*Exchanger)(nil)

func (e *Exchanger) Exchange(ctx context.Context, round int, out exchange.Outbox) (exchange.Inbox, error) {
	r := uint64(round)

	pairs := make(map[string][]byte, len(out.Batches)+1)
	for dst, batch := range out.Batches {
		if dst < 0 || dst >= e.fnum {
			return exchange.Inbox{}, fmt.Errorf("round %d: fragment %d sent to unknown fragment %d", round, e.fid, dst)
		}
		if len(batch) > 0 {
			pairs[apiv1.MailboxKey(dst, e.fid)] = batch
		}
	}
	pairs[apiv1.VoteKey(e.fid)] = apiv1.EncodeVotes(out.Votes())

	if err := e.client.StartRound(ctx, r, int32(e.fnum)); err != nil {
		return exchange.Inbox{}, err
	}
	if err := e.client.PublishValues(ctx, r, e.worker, pairs); err != nil {
		// A retried publish of a round this worker completed.
		if status.Code(err) != codes.AlreadyExists {
			return exchange.Inbox{}, err
		}
	}

	raw, err := e.client.WaitValue(ctx, r, apiv1.RoundVotesKey)
	if err != nil {
		return exchange.Inbox{}, fmt.Errorf("round %d votes: %w", round, err)
	}
	votes, err := apiv1.DecodeVotes(raw)
	if err != nil {
		return exchange.Inbox{}, fmt.Errorf("round %d votes: %w", round, err)
	}

	in := exchange.Inbox{Votes: votes}
	if votes == 0 {
		return in, nil
	}
	for src := 0; src < e.fnum; src++ {
		batch, err := e.client.GetValue(ctx, r, apiv1.MailboxKey(e.fid, src))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return exchange.Inbox{}, fmt.Errorf("round %d mailbox from %d: %w", round, src, err)
		}
		in.Batches = append(in.Batches, batch)
	}
	e.logger.Trace("round collected", "round", round, "votes", votes, "batches", len(in.Batches))
	return in, nil
}

// Package client is the worker side of the coordination service.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	apiv1 "github.com/mundrapranay/dcore/api/v1"
)

// ErrNotFound is returned when a sealed round has no value for a key.
var ErrNotFound = errors.New("key not found")

// Client provides a Go client library for workers to interact with the
// coordination service.
type Client struct {
	conn    *grpc.ClientConn
	service apiv1.CoordinationServiceClient

	// MaxWait bounds how long WaitValue polls a round that is not sealed.
	// Zero waits until the context is done.
	MaxWait time.Duration
}

// NewClient creates a new client connection to a coordination server.
func NewClient(serverAddr string) (*Client, error) {
	conn, err := grpc.NewClient(serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}

	return &Client{
		conn:    conn,
		service: apiv1.NewCoordinationServiceClient(conn),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// StartRound initializes a new round on the server.
func (c *Client) StartRound(ctx context.Context, roundID uint64, expectedWorkers int32) error {
	req := &apiv1.StartRoundRequest{
		RoundId:         roundID,
		ExpectedWorkers: expectedWorkers,
	}

	resp, err := c.service.StartRound(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to start round: %w", err)
	}

	if !resp.Success {
		return fmt.Errorf("server returned failure for start round")
	}

	return nil
}

// PublishValues publishes key-value pairs for a given round.
func (c *Client) PublishValues(ctx context.Context, roundID uint64, workerID string, pairs map[string][]byte) error {
	kvPairs := make([]*apiv1.KeyValuePair, 0, len(pairs))
	for k, v := range pairs {
		kvPairs = append(kvPairs, &apiv1.KeyValuePair{
			Key:   k,
			Value: v,
		})
	}

	req := &apiv1.PublishValuesRequest{
		RoundId:  roundID,
		WorkerId: workerID,
		Pairs:    kvPairs,
	}

	resp, err := c.service.PublishValues(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to publish values: %w", err)
	}

	if !resp.Success {
		return fmt.Errorf("server returned failure for publish values")
	}

	return nil
}

// GetValue retrieves a value for a specific key from a sealed round.
func (c *Client) GetValue(ctx context.Context, roundID uint64, key string) ([]byte, error) {
	resp, err := c.service.GetValue(ctx, &apiv1.GetValueRequest{RoundId: roundID, Key: key})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("round %d key %s: %w", roundID, key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get value: %w", err)
	}
	return resp.Value, nil
}

// WaitValue is GetValue, retried with exponential backoff while the round
// is still being published.
func (c *Client) WaitValue(ctx context.Context, roundID uint64, key string) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = c.MaxWait

	var value []byte
	op := func() error {
		v, err := c.GetValue(ctx, roundID, key)
		if err == nil {
			value = v
			return nil
		}
		if status.Code(err) == codes.Unavailable {
			return err
		}
		return backoff.Permanent(err)
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return value, nil
}

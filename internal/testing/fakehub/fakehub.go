// Package fakehub is an in-memory batch.TaskClient for tests above the engine.
// Every job succeeds with one output unless its app id is listed in Fail.
package fakehub

import (
	"context"
	"sync"

	"github.com/teranos/hubrun/errors"
	"github.com/teranos/hubrun/pulse/batch"
)

// Client is a scripted hub
type Client struct {
	mu       sync.Mutex
	Fail     map[string]bool    // app ids whose tasks fail remotely
	Block    chan struct{}      // when set, polls wait on it (or ctx)
	Balances map[string]float64 // by credential id; missing ids fail the query
	Submits  []string           // app ids in submit order
	spend    float64            // credits charged per submit
}

// New creates a hub charging spendPerSubmit credits on each submit. Balance
// queries only succeed for credentials listed in Balances.
func New(spendPerSubmit float64) *Client {
	return &Client{
		Fail:     make(map[string]bool),
		Balances: make(map[string]float64),
		spend:    spendPerSubmit,
	}
}

func (c *Client) UploadAttachment(ctx context.Context, cred batch.Credential, localPath string, kind batch.FieldKind) (string, error) {
	return "remote/" + localPath, nil
}

func (c *Client) SubmitJob(ctx context.Context, cred batch.Credential, app string, fields []batch.WireField) (*batch.Submission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Submits = append(c.Submits, app)
	if b, ok := c.Balances[cred.ID]; ok {
		c.Balances[cred.ID] = b - c.spend
	}
	return &batch.Submission{TaskID: app}, nil
}

func (c *Client) PollJob(ctx context.Context, cred batch.Credential, taskID string) (*batch.PollResult, error) {
	if c.Block != nil {
		select {
		case <-c.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Fail[taskID] {
		return &batch.PollResult{Status: batch.PollFailed, Failure: &batch.RemoteFailure{NodeID: "1", Message: "boom"}}, nil
	}
	return &batch.PollResult{
		Status:  batch.PollSucceeded,
		Outputs: []batch.Output{{URL: "https://cdn.example.com/" + taskID + ".png", FileType: "png"}},
	}, nil
}

func (c *Client) QueryBalance(ctx context.Context, cred batch.Credential) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.Balances[cred.ID]
	if !ok {
		return 0, errors.Newf("unknown credential %s", cred.ID)
	}
	return b, nil
}

// SubmitCount returns how many submits were made
func (c *Client) SubmitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Submits)
}

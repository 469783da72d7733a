package server

import (
	"time"

	"github.com/teranos/hubrun/ai/tracker"
	"github.com/teranos/hubrun/jobfile"
	"github.com/teranos/hubrun/pulse/batch"
	"github.com/teranos/hubrun/pulse/budget"
	"github.com/teranos/hubrun/runner"
)

// Server limits and timeouts
const (
	MaxClients      = 64
	ShutdownTimeout = 10 * time.Second
	maxRequestBody  = 8 << 20
)

// ServerState is the lifecycle of the HTTP server
type ServerState int32

const (
	ServerStateRunning ServerState = iota
	ServerStateDraining
	ServerStateStopped
)

// StartBatchRequest starts a batch from a job file on the server's disk or
// from an inline job document. Exactly one must be set.
type StartBatchRequest struct {
	JobFile string        `json:"job_file,omitempty"`
	Jobs    *jobfile.File `json:"jobs,omitempty"`
}

// StartBatchResponse is returned with 202 Accepted
type StartBatchResponse struct {
	BatchID string `json:"batch_id"`
	Total   int    `json:"total"`
}

// RetryRequest selects job indices to retry. Without indices every job the
// last batch did not complete is retried.
type RetryRequest struct {
	Indices []int `json:"indices,omitempty"`
}

// BalanceResponse lists every configured credential's balance
type BalanceResponse struct {
	Credentials []runner.CredentialBalance `json:"credentials"`
}

// StatusResponse is the server's overall view
type StatusResponse struct {
	State    batch.BatchState    `json:"state"`
	Progress *batch.Progress     `json:"progress,omitempty"`
	System   batch.SystemMetrics `json:"system"`
	Budget   *budget.Status      `json:"budget,omitempty"`
	Calls    *tracker.UsageStats `json:"calls_24h,omitempty"`
	Clients  int                 `json:"ws_clients"`
	Drops    int64               `json:"broadcast_drops"`
	Version  string              `json:"version"`
}

// EventMessage wraps one engine event on the websocket
type EventMessage struct {
	Type  string      `json:"type"`
	Event batch.Event `json:"event"`
}

// ProgressMessage is sent to a client when it connects
type ProgressMessage struct {
	Type     string          `json:"type"`
	Progress *batch.Progress `json:"progress"`
}

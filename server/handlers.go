package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/teranos/hubrun/errors"
	"github.com/teranos/hubrun/jobfile"
	"github.com/teranos/hubrun/logger"
	"github.com/teranos/hubrun/pulse/batch"
	"github.com/teranos/hubrun/sym"
	"github.com/teranos/hubrun/version"
)

const defaultRunsLimit = 20

// HandleHealth reports liveness and the running version
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": version.Get().Short(),
		"state":   stateString(s.getState()),
	})
}

// HandleStartBatch starts a batch from a job file path or an inline job document
func (s *Server) HandleStartBatch(w http.ResponseWriter, r *http.Request) {
	var req StartBatchRequest
	if err := readJSON(w, r, &req); err != nil {
		s.handleError(w, err, "failed to start batch")
		return
	}

	specs, err := req.specs()
	if err != nil {
		s.handleError(w, err, "failed to start batch")
		return
	}

	// The batch outlives this request
	h, err := s.runner.Start(s.ctx, specs, req.JobFile)
	if err != nil {
		s.handleError(w, err, "failed to start batch")
		return
	}
	s.runner.RecordWhenDone(h)

	s.logger.Infow(sym.PulseOpen+" Batch started over HTTP",
		logger.FieldBatchID, h.ID(),
		logger.FieldCount, len(specs),
		logger.FieldFile, req.JobFile)

	writeJSON(w, http.StatusAccepted, StartBatchResponse{BatchID: h.ID(), Total: len(specs)})
}

func (req StartBatchRequest) specs() ([]batch.JobSpec, error) {
	switch {
	case req.JobFile != "" && req.Jobs != nil:
		return nil, errors.NewInvalidRequestError("set either job_file or jobs, not both")
	case req.JobFile != "":
		specs, err := jobfile.Load(req.JobFile)
		if err != nil {
			return nil, errors.Wrap(errors.ErrInvalidRequest, err.Error())
		}
		return specs, nil
	case req.Jobs != nil:
		// Relative attachment paths resolve against the server's working directory
		specs, err := req.Jobs.Specs("")
		if err != nil {
			return nil, errors.Wrap(errors.ErrInvalidRequest, err.Error())
		}
		return specs, nil
	default:
		return nil, errors.WithHint(
			errors.NewInvalidRequestError("no jobs in request"),
			`send {"job_file": "/path/to/jobs.yaml"} or {"jobs": {...}}`)
	}
}

// HandleCurrentBatch returns the progress of the running or last batch,
// with its summary once finished
func (s *Server) HandleCurrentBatch(w http.ResponseWriter, r *http.Request) {
	h := s.runner.Coordinator().Current()
	if h == nil {
		s.handleError(w, errors.NewNotFoundError("no batch has been started"), "no current batch")
		return
	}

	p := h.Progress()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"progress": p,
		"summary":  h.Summary(),
	})
}

// HandleCancelBatch cancels the running batch and returns its summary
func (s *Server) HandleCancelBatch(w http.ResponseWriter, r *http.Request) {
	h := s.runner.Coordinator().Current()
	if h == nil {
		s.handleError(w, errors.NewNotFoundError("no batch has been started"), "failed to cancel batch")
		return
	}

	summary := h.Cancel()
	s.logger.Infow(sym.PulseClose+" Batch cancelled over HTTP",
		logger.FieldBatchID, h.ID(),
		logger.FieldState, summary.State)

	writeJSON(w, http.StatusOK, summary)
}

// HandleRetryBatch retries jobs of the last batch. Without indices it
// retries every job that did not complete.
func (s *Server) HandleRetryBatch(w http.ResponseWriter, r *http.Request) {
	var req RetryRequest
	if !emptyBody(r) {
		if err := readJSON(w, r, &req); err != nil {
			s.handleError(w, err, "failed to retry batch")
			return
		}
	}

	h, err := s.runner.Retry(s.ctx, req.Indices)
	if err != nil {
		s.handleError(w, err, "failed to retry batch")
		return
	}
	s.runner.RecordWhenDone(h)

	total := h.Progress().Total
	s.logger.Infow(sym.PulseOpen+" Retry started over HTTP",
		logger.FieldBatchID, h.ID(),
		logger.FieldCount, total)

	writeJSON(w, http.StatusAccepted, StartBatchResponse{BatchID: h.ID(), Total: total})
}

// HandleListRuns lists recorded runs, newest first. ?limit=N
func (s *Server) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.handleError(w, errors.NewInvalidRequestError("limit must be a positive integer, got %q", raw), "failed to list runs")
			return
		}
		limit = n
	}

	runs, err := s.runner.Budget().Store().ListRuns(limit)
	if err != nil {
		s.handleError(w, err, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// HandleGetRun returns one recorded run
func (s *Server) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	if _, err := uuid.Parse(id); err != nil {
		s.handleError(w, errors.NewInvalidRequestError("run id %q is not a UUID", id), "failed to get run")
		return
	}

	run, err := s.runner.Budget().Store().GetRun(id)
	if err != nil {
		s.handleError(w, err, "failed to get run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// HandleBalance queries every configured credential
func (s *Server) HandleBalance(w http.ResponseWriter, r *http.Request) {
	balances, err := s.runner.Balances(r.Context())
	if err != nil {
		s.handleError(w, err, "failed to query balances")
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Credentials: balances})
}

// HandleStatus reports the engine, the host, budget windows and hub call stats
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	coord := s.runner.Coordinator()
	resp := StatusResponse{
		State:   coord.State(),
		System:  coord.GetSystemMetrics(),
		Clients: s.ClientCount(),
		Drops:   s.broadcastDrops.Load(),
		Version: version.Get().Short(),
	}
	if h := coord.Current(); h != nil {
		p := h.Progress()
		resp.Progress = &p
	}

	if status, err := s.runner.Budget().GetStatus(); err != nil {
		s.logger.Warnw("Failed to read budget status", logger.FieldError, err)
	} else {
		resp.Budget = status
	}
	if stats, err := s.runner.Usage().GetUsageStats(time.Now().Add(-24 * time.Hour)); err != nil {
		s.logger.Warnw("Failed to read call stats", logger.FieldError, err)
	} else {
		resp.Calls = stats
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleEvents upgrades to a websocket that streams batch events
func (s *Server) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("WebSocket upgrade failed", logger.FieldError, err)
		return
	}

	client := newClient(s, conn, uuid.NewString())
	s.logger.Debugw("WebSocket connected", "client_id", shortID(client.id))

	select {
	case s.register <- client:
	case <-s.ctx.Done():
		conn.Close()
		return
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		client.writePump()
	}()
	go func() {
		defer s.wg.Done()
		client.readPump()
	}()
}

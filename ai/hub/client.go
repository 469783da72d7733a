// Package hub is the HTTPS+JSON client for the remote task hub. It implements
// batch.TaskClient: attachment upload, app submission, task polling and
// account balance queries.
package hub

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/hubrun/ai/tracker"
	"github.com/teranos/hubrun/errors"
	"github.com/teranos/hubrun/internal/httpclient"
	"github.com/teranos/hubrun/logger"
	"github.com/teranos/hubrun/pulse/batch"
	"github.com/teranos/hubrun/version"
)

const (
	// DefaultBaseURL is used when Config.BaseURL is empty
	DefaultBaseURL = "https://www.runninghub.ai"

	// DefaultTimeout bounds a single HTTP request
	DefaultTimeout = 30 * time.Second
)

var userAgent = version.Get().UserAgent()

// Endpoints, relative to the base URL
const (
	pathUpload  = "/task/openapi/upload"
	pathRun     = "/task/openapi/ai-app/run"
	pathOutputs = "/task/openapi/outputs"
	pathAccount = "/uc/openapi/accountStatus"
)

// Hub response codes with a meaning beyond success/failure
const (
	codeOK      = 0
	codeRunning = 804
	codeFailed  = 805
	codeQueued  = 813
)

// Config holds hub client configuration
type Config struct {
	BaseURL         string
	Timeout         time.Duration // 0 = DefaultTimeout
	AllowPrivateIPs bool          // Only for hubs on a local network
	Logger          *zap.SugaredLogger
	DB              *sql.DB                 // Enables call tracking into hub_call_usage
	HTTPClient      *httpclient.SaferClient // Overrides the client built from Timeout/AllowPrivateIPs
	MaxRetries      int                     // Attempts for uploads and balance queries (default 3)
	RetryDelay      time.Duration           // Base delay between those attempts (default 1s)
}

// Client talks to the hub. Submits are never retried: a lost response
// must not turn into a second paid task.
type Client struct {
	baseURL      string
	httpClient   *httpclient.SaferClient
	usageTracker *tracker.UsageTracker
	logger       *zap.SugaredLogger
	maxRetries   int
	retryDelay   time.Duration
}

var _ batch.TaskClient = (*Client)(nil)

// NewClient creates a hub client
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = httpclient.New(cfg.Timeout, httpclient.Options{AllowPrivateIPs: cfg.AllowPrivateIPs})
	}

	var usageTracker *tracker.UsageTracker
	if cfg.DB != nil {
		usageTracker = tracker.NewUsageTracker(cfg.DB)
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:   httpClient,
		usageTracker: usageTracker,
		logger:       log,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}
}

// envelope is the common hub response shape
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// statusError is a non-200 HTTP response
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("hub returned HTTP %d: %s", e.status, truncate(e.body, 200))
}

// UploadAttachment uploads a local media file and returns the name the hub
// assigned to it
func (c *Client) UploadAttachment(ctx context.Context, cred batch.Credential, localPath string, kind batch.FieldKind) (string, error) {
	start := time.Now()
	var name string
	err := c.withRetry(ctx, tracker.OpUpload, func() error {
		body, contentType, err := multipartBody(cred.APIKey, string(kind), localPath)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathUpload, body)
		if err != nil {
			return errors.Wrap(err, "failed to create request")
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("User-Agent", userAgent)

		env, _, err := c.send(req)
		if err != nil {
			return err
		}
		if env.Code != codeOK {
			return errors.Newf("upload rejected (code %d): %s", env.Code, env.Msg)
		}
		var data struct {
			FileName string `json:"fileName"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil || data.FileName == "" {
			return errors.Newf("upload response carries no file name: %s", truncate(string(env.Data), 200))
		}
		name = data.FileName
		return nil
	})
	c.track(tracker.OpUpload, cred, "", start, err)
	if err != nil {
		return "", errors.Wrapf(err, "upload %s", filepath.Base(localPath))
	}

	c.logger.Debugw("Attachment uploaded",
		logger.FieldCredential, cred.Fingerprint(),
		logger.FieldFile, localPath,
		"remote_name", name)
	return name, nil
}

func multipartBody(apiKey, fileType, localPath string) (io.Reader, string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to open attachment")
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("apiKey", apiKey); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("fileType", fileType); err != nil {
		return nil, "", err
	}
	part, err := w.CreateFormFile("file", filepath.Base(localPath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", errors.Wrap(err, "failed to read attachment")
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

type runRequest struct {
	WebappID     string            `json:"webappId"`
	APIKey       string            `json:"apiKey"`
	NodeInfoList []batch.WireField `json:"nodeInfoList"`
}

type runData struct {
	TaskID     string `json:"taskId"`
	TaskStatus string `json:"taskStatus"`
	PromptTips string `json:"promptTips"`
}

// SubmitJob starts an app run. Validation problems come back as inline
// errors on the Submission; only transport failures are returned as errors.
func (c *Client) SubmitJob(ctx context.Context, cred batch.Credential, app string, fields []batch.WireField) (*batch.Submission, error) {
	start := time.Now()
	env, raw, err := c.postJSON(ctx, pathRun, runRequest{WebappID: app, APIKey: cred.APIKey, NodeInfoList: fields})
	if err != nil {
		c.track(tracker.OpSubmit, cred, "", start, err)
		return nil, err
	}

	sub := &batch.Submission{Raw: string(raw)}
	if env.Code != codeOK {
		sub.InlineErrors = []batch.InlineError{{Type: fmt.Sprintf("code %d", env.Code), Message: env.Msg}}
		c.track(tracker.OpSubmit, cred, "", start, errors.Newf("code %d: %s", env.Code, env.Msg))
		return sub, nil
	}

	var data runData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		err = errors.Wrap(err, "failed to decode submit response")
		c.track(tracker.OpSubmit, cred, "", start, err)
		return nil, err
	}

	sub.InlineErrors = c.parsePromptTips(data.PromptTips)
	if len(sub.InlineErrors) > 0 {
		c.track(tracker.OpSubmit, cred, data.TaskID, start, errors.New("inline validation errors"))
		return sub, nil
	}
	if data.TaskID == "" {
		err := errors.New("submit accepted without a task id")
		c.track(tracker.OpSubmit, cred, "", start, err)
		return nil, err
	}

	sub.TaskID = data.TaskID
	c.track(tracker.OpSubmit, cred, data.TaskID, start, nil)
	c.logger.Debugw("Job submitted",
		logger.FieldCredential, cred.Fingerprint(),
		logger.FieldApp, app,
		logger.FieldTaskID, data.TaskID)
	return sub, nil
}

// promptTips is a JSON document embedded as a string in submit responses
type promptTips struct {
	NodeErrors map[string]struct {
		Errors []struct {
			Type    string `json:"type"`
			Message string `json:"message"`
			Details string `json:"details"`
		} `json:"errors"`
		ClassType string `json:"class_type"`
	} `json:"node_errors"`
}

func (c *Client) parsePromptTips(s string) []batch.InlineError {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var tips promptTips
	if err := json.Unmarshal([]byte(s), &tips); err != nil {
		c.logger.Debugw("Unparseable promptTips ignored", logger.FieldError, err)
		return nil
	}

	nodeIDs := make([]string, 0, len(tips.NodeErrors))
	for id := range tips.NodeErrors {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	var out []batch.InlineError
	for _, id := range nodeIDs {
		node := tips.NodeErrors[id]
		if len(node.Errors) == 0 {
			out = append(out, batch.InlineError{NodeID: id, Type: node.ClassType})
			continue
		}
		for _, e := range node.Errors {
			out = append(out, batch.InlineError{NodeID: id, Type: e.Type, Message: e.Message, Details: e.Details})
		}
	}
	return out
}

type taskRequest struct {
	APIKey string `json:"apiKey"`
	TaskID string `json:"taskId"`
}

type outputItem struct {
	FileURL  string `json:"fileUrl"`
	FileType string `json:"fileType"`
	NodeID   string `json:"nodeId"`
}

type failedReason struct {
	NodeID           string `json:"node_id"`
	NodeName         string `json:"node_name"`
	ExceptionMessage string `json:"exception_message"`
	ExceptionType    string `json:"exception_type"`
}

// PollJob asks for a task's outputs. Transport failures are returned as
// errors and treated as transient by the engine.
func (c *Client) PollJob(ctx context.Context, cred batch.Credential, taskID string) (*batch.PollResult, error) {
	start := time.Now()
	env, _, err := c.postJSON(ctx, pathOutputs, taskRequest{APIKey: cred.APIKey, TaskID: taskID})
	c.track(tracker.OpPoll, cred, taskID, start, err)
	if err != nil {
		return nil, err
	}

	switch env.Code {
	case codeOK:
		var items []outputItem
		if err := json.Unmarshal(env.Data, &items); err != nil || len(items) == 0 {
			// Success code without outputs yet
			return &batch.PollResult{Status: batch.PollRunning}, nil
		}
		outputs := make([]batch.Output, 0, len(items))
		for _, it := range items {
			outputs = append(outputs, batch.Output{URL: it.FileURL, FileType: it.FileType, NodeID: it.NodeID})
		}
		return &batch.PollResult{Status: batch.PollSucceeded, Outputs: outputs}, nil
	case codeRunning:
		return &batch.PollResult{Status: batch.PollRunning}, nil
	case codeQueued:
		return &batch.PollResult{Status: batch.PollQueued}, nil
	case codeFailed:
		return &batch.PollResult{Status: batch.PollFailed, Failure: parseFailure(env)}, nil
	default:
		msg := env.Msg
		if msg == "" {
			msg = fmt.Sprintf("hub returned code %d", env.Code)
		}
		return &batch.PollResult{Status: batch.PollFailed, Failure: &batch.RemoteFailure{Message: msg}}, nil
	}
}

func parseFailure(env *envelope) *batch.RemoteFailure {
	var data struct {
		FailedReason failedReason `json:"failedReason"`
	}
	f := &batch.RemoteFailure{Message: env.Msg}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return f
	}
	r := data.FailedReason
	f.NodeID = r.NodeID
	switch {
	case r.ExceptionMessage != "":
		f.Message = strings.TrimSpace(r.ExceptionMessage)
	case r.ExceptionType != "":
		f.Message = r.ExceptionType
	}
	if f.Message == "" {
		f.Message = "task failed"
	}
	return f
}

// QueryBalance returns the credential's remaining credits
func (c *Client) QueryBalance(ctx context.Context, cred batch.Credential) (float64, error) {
	start := time.Now()
	var balance float64
	err := c.withRetry(ctx, tracker.OpBalance, func() error {
		env, _, err := c.postJSON(ctx, pathAccount, map[string]string{"apikey": cred.APIKey})
		if err != nil {
			return err
		}
		if env.Code != codeOK {
			return errors.Newf("balance query rejected (code %d): %s", env.Code, env.Msg)
		}
		var data struct {
			RemainCoins json.Number `json:"remainCoins"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return errors.Wrap(err, "failed to decode account status")
		}
		v, err := parseCoins(data.RemainCoins)
		if err != nil {
			return err
		}
		balance = v
		return nil
	})
	c.track(tracker.OpBalance, cred, "", start, err)
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func parseCoins(n json.Number) (float64, error) {
	s := strings.TrimSpace(string(n))
	if s == "" {
		return 0, errors.New("account status carries no remainCoins")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid remainCoins %q", s)
	}
	return v, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any) (*envelope, []byte, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	return c.send(req)
}

func (c *Client) send(req *http.Request) (*envelope, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "request to %s failed", req.URL.Path)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, respBody, &statusError{status: resp.StatusCode, body: string(respBody)}
	}

	var env envelope
	dec := json.NewDecoder(bytes.NewReader(respBody))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, respBody, errors.Wrapf(err, "failed to decode response from %s", req.URL.Path)
	}
	return &env, respBody, nil
}

// withRetry runs fn up to maxRetries times while it fails with a network or
// 5xx error. Waits are cancelled with ctx.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * c.retryDelay
			c.logger.Debugw("Retrying hub request",
				logger.FieldOperation, op,
				logger.FieldAttempt, attempt+1,
				"delay", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err = fn()
		if err == nil || ctx.Err() != nil || !isRetryableError(err) {
			return err
		}
		c.logger.Warnw("Hub request failed",
			logger.FieldOperation, op,
			logger.FieldAttempt, attempt+1,
			logger.FieldError, err)
	}
	return errors.Wrapf(err, "%s failed after %d attempts", op, c.maxRetries)
}

// isRetryableError checks if an error is worth retrying (network-related or server side)
func isRetryableError(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status >= 500 || se.status == http.StatusTooManyRequests
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ETIMEDOUT:
			return true
		}
	}
	return false
}

func (c *Client) track(op string, cred batch.Credential, taskID string, start time.Time, err error) {
	if c.usageTracker == nil {
		return
	}
	usage := &tracker.CallUsage{
		Operation:             op,
		CredentialFingerprint: cred.Fingerprint(),
		TaskID:                taskID,
		Success:               err == nil,
		Duration:              time.Since(start),
		RequestTimestamp:      start,
	}
	if err != nil {
		usage.ErrorMessage = truncate(err.Error(), 500)
	}
	if trackErr := c.usageTracker.TrackCall(usage); trackErr != nil {
		// Budget reports rely on this data
		c.logger.Warnw("Failed to track hub call",
			logger.FieldOperation, op,
			logger.FieldError, trackErr)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package batch

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ErrorKind classifies why a job failed
type ErrorKind string

const (
	ErrorKindAttachment ErrorKind = "attachment"       // local file failed to upload
	ErrorKindValidation ErrorKind = "validation"       // rejected inline at submit
	ErrorKindSubmit     ErrorKind = "submit"           // submit call itself failed
	ErrorKindRemote     ErrorKind = "remote_execution" // accepted, then failed remotely
	ErrorKindTransient  ErrorKind = "transient"        // poll I/O failure, retried
	ErrorKindEngine     ErrorKind = "engine"           // coordination bug, fatal
)

// ValidationCategory subdivides ErrorKindValidation for the user
type ValidationCategory string

const (
	CategoryInsufficientBalance ValidationCategory = "insufficient_external_balance"
	CategoryInvalidCredential   ValidationCategory = "invalid_credential"
	CategoryParameter           ValidationCategory = "parameter_validation"
	CategoryUnclassified        ValidationCategory = "unclassified"
)

// Messages shown for classified validation errors
const (
	MessageInsufficientBalance = "third-party API balance is insufficient"
	MessageInvalidCredential   = "API key is invalid or expired"
)

// JobError is the terminal failure of one job. It never leaves the job's
// worker as a Go error; it is reported to the coordinator as data.
type JobError struct {
	Kind     ErrorKind
	Category ValidationCategory
	NodeID   string
	Message  string
	Raw      string
	cause    error
}

func (e *JobError) Error() string { return e.Message }

func (e *JobError) Unwrap() error { return e.cause }

func attachmentError(localPath string, err error) *JobError {
	return &JobError{
		Kind:    ErrorKindAttachment,
		Message: "attachment upload failed: " + filepath.Base(localPath),
		cause:   err,
	}
}

func submitError(err error) *JobError {
	return &JobError{
		Kind:    ErrorKindSubmit,
		Message: "submit failed: " + err.Error(),
		cause:   err,
	}
}

func remoteError(f *RemoteFailure) *JobError {
	e := &JobError{Kind: ErrorKindRemote, Message: "remote execution failed"}
	if f == nil {
		return e
	}
	e.NodeID = f.NodeID
	switch {
	case f.NodeID != "" && f.Message != "":
		e.Message = fmt.Sprintf("remote execution failed at node %s: %s", f.NodeID, f.Message)
	case f.Message != "":
		e.Message = "remote execution failed: " + f.Message
	case f.NodeID != "":
		e.Message = "remote execution failed at node " + f.NodeID
	}
	return e
}

func unclassifiedError(message, raw string) *JobError {
	return &JobError{
		Kind:     ErrorKindValidation,
		Category: CategoryUnclassified,
		Message:  message,
		Raw:      raw,
	}
}

var (
	balancePatterns = []string{
		"余额不足",
		"insufficient balance",
		"balance is insufficient",
		"balance insufficient",
		"not enough balance",
		"insufficient credit",
		"insufficient funds",
	}
	credentialPatterns = []string{
		"api key",
		"apikey",
		"api_key",
		"invalid key",
		"unauthorized",
		"invalid token",
		"token expired",
	}
)

// ClassifyInlineErrors turns the first actionable inline error of a submit
// into a job failure. An error with no message at all is unclassified and
// carries the raw payload so the user still sees something.
func ClassifyInlineErrors(errs []InlineError, raw string) *JobError {
	var first *InlineError
	for i := range errs {
		if errs[i].Message != "" || errs[i].Details != "" || errs[i].Type != "" {
			first = &errs[i]
			break
		}
	}
	if first == nil {
		return unclassifiedError("submit rejected without details: "+raw, raw)
	}

	text := strings.ToLower(first.Type + " " + first.Message + " " + first.Details)
	e := &JobError{Kind: ErrorKindValidation, NodeID: first.NodeID, Raw: raw}

	switch {
	case containsAny(text, balancePatterns):
		e.Category = CategoryInsufficientBalance
		e.Message = MessageInsufficientBalance
	case containsAny(text, credentialPatterns):
		e.Category = CategoryInvalidCredential
		e.Message = MessageInvalidCredential
	default:
		detail := first.Message
		if detail == "" {
			detail = first.Details
		}
		if detail == "" {
			detail = first.Type
		}
		e.Category = CategoryParameter
		if first.NodeID != "" {
			e.Message = fmt.Sprintf("parameter validation failed: node %s: %s", first.NodeID, detail)
		} else {
			e.Message = "parameter validation failed: " + detail
		}
	}
	return e
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

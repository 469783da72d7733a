package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyInlineErrors(t *testing.T) {
	tests := []struct {
		name     string
		errs     []InlineError
		category ValidationCategory
		message  string
	}{
		{
			name:     "external balance",
			errs:     []InlineError{{NodeID: "4", Message: "API balance is insufficient"}},
			category: CategoryInsufficientBalance,
			message:  MessageInsufficientBalance,
		},
		{
			name:     "external balance in chinese",
			errs:     []InlineError{{NodeID: "4", Type: "api_error", Details: "第三方API余额不足"}},
			category: CategoryInsufficientBalance,
			message:  MessageInsufficientBalance,
		},
		{
			name:     "invalid key",
			errs:     []InlineError{{NodeID: "7", Message: "Invalid API key provided"}},
			category: CategoryInvalidCredential,
			message:  MessageInvalidCredential,
		},
		{
			name:     "parameter",
			errs:     []InlineError{{NodeID: "12", Message: "width must be a multiple of 8"}},
			category: CategoryParameter,
			message:  "parameter validation failed: node 12: width must be a multiple of 8",
		},
		{
			name: "first actionable error wins",
			errs: []InlineError{
				{NodeID: "1"},
				{NodeID: "2", Message: "seed out of range"},
				{NodeID: "3", Message: "balance is insufficient"},
			},
			category: CategoryParameter,
			message:  "parameter validation failed: node 2: seed out of range",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := ClassifyInlineErrors(tt.errs, `{"raw":true}`)
			assert.Equal(t, ErrorKindValidation, e.Kind)
			assert.Equal(t, tt.category, e.Category)
			assert.Equal(t, tt.message, e.Message)
		})
	}
}

func TestClassifyInlineErrorsUnclassifiedCarriesRaw(t *testing.T) {
	raw := `{"node_errors":{"5":{}}}`

	e := ClassifyInlineErrors([]InlineError{{NodeID: "5"}}, raw)

	assert.Equal(t, CategoryUnclassified, e.Category)
	assert.Equal(t, raw, e.Raw)
	assert.Contains(t, e.Message, raw)
}

func TestRemoteError(t *testing.T) {
	assert.Equal(t, "remote execution failed at node 12: CUDA out of memory",
		remoteError(&RemoteFailure{NodeID: "12", Message: "CUDA out of memory"}).Message)
	assert.Equal(t, "remote execution failed: timeout",
		remoteError(&RemoteFailure{Message: "timeout"}).Message)
	assert.Equal(t, "remote execution failed", remoteError(nil).Message)
}

func TestAttachmentErrorUsesBaseName(t *testing.T) {
	e := attachmentError("/home/me/pics/cat.png", assert.AnError)
	assert.Equal(t, ErrorKindAttachment, e.Kind)
	assert.Equal(t, "attachment upload failed: cat.png", e.Message)
	assert.ErrorIs(t, e, assert.AnError)
}

package batch

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/hubrun/errors"
)

func TestJobTransitions(t *testing.T) {
	job := newJob(3, JobSpec{App: "app"}, 1)
	assert.Equal(t, StatePending, job.State)

	for _, to := range []JobState{StateUploading, StateSubmitted, StatePolling, StatePolling, StateSucceeded} {
		require.NoError(t, job.transition(to), "-> %s", to)
	}
	assert.True(t, job.State.IsTerminal())

	// No job transitions out of a terminal state
	err := job.transition(StatePolling)
	require.Error(t, err)
	assert.True(t, errors.HasAssertionFailure(err))
	assert.Equal(t, StateSucceeded, job.State)
}

func TestJobTransitionsSkippingPollIsAllowed(t *testing.T) {
	job := newJob(0, JobSpec{}, 1)
	require.NoError(t, job.transition(StateSubmitted))
	require.NoError(t, job.transition(StateFailed))
	assert.True(t, job.State.IsTerminal())
}

func TestAbortedIsNotTerminal(t *testing.T) {
	assert.False(t, StateAborted.IsTerminal())
	assert.False(t, StatePolling.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
}

func TestCredentialNeverPrintsKey(t *testing.T) {
	c := Credential{ID: "main", APIKey: "sk-secret-9f8e7d6c5b4a", Concurrency: 2}

	printed := fmt.Sprintf("%v %+v %s", c, c, c)
	assert.NotContains(t, printed, c.APIKey)
	assert.Contains(t, printed, c.Fingerprint())

	encoded, err := json.Marshal(c)
	require.NoError(t, err)
	assert.NotContains(t, string(encoded), c.APIKey)
}

func TestPendingAttachments(t *testing.T) {
	pending, _ := NewAttachment(KindImage, "a.png")
	uploaded, _ := NewRemoteAttachment(KindImage, "api/b.png")
	spec := JobSpec{Fields: []Field{
		{NodeID: "1", Name: "image", Value: pending},
		{NodeID: "2", Name: "image", Value: uploaded},
		{NodeID: "3", Name: "text", Value: Text("x")},
	}}
	assert.Equal(t, 1, spec.PendingAttachments())
}

package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShort(t *testing.T) {
	assert.Equal(t, "0123456", Info{CommitHash: "0123456789abcdef"}.Short())
	assert.Equal(t, "dev", Info{CommitHash: "dev"}.Short())
}

func TestString(t *testing.T) {
	info := Info{Version: "v0.3.0", CommitHash: "0123456789", BuildTime: "2026-10-01", GoVersion: "go1.24.6", Platform: "linux/amd64"}
	assert.Equal(t, "hubrun v0.3.0 (commit 0123456, built 2026-10-01, go1.24.6 linux/amd64)", info.String())
	assert.Equal(t, "hubrun/v0.3.0 (linux/amd64)", info.UserAgent())
}

func TestGet(t *testing.T) {
	info := Get()
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
}

package errtrack

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_EmptyDSNDisables(t *testing.T) {
	require.NoError(t, Init("", "test", "dev"))
	assert.False(t, IsEnabled())

	// no client configured; these must not panic or block
	CaptureError(errors.New("boom"), map[string]string{"stage": "send"})
	Flush(10 * time.Millisecond)
}

func TestInit_BadDSNFails(t *testing.T) {
	err := Init("not a dsn", "test", "dev")
	assert.Error(t, err)
	assert.False(t, IsEnabled())
}

package ingest

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{
			name:      "nil",
			err:       nil,
			retryable: false,
		},
		{
			name:      "fetch failure",
			err:       &FetchError{URL: "https://example.com/a", Err: errors.New("timeout")},
			retryable: true,
		},
		{
			name:      "storage failure",
			err:       &StorageError{Op: "put", Key: "src/abc/original_ff.jpg", Err: errors.New("503")},
			retryable: true,
		},
		{
			name:      "extract failure",
			err:       &ExtractError{URL: "https://example.com/a", Reason: "no media found"},
			retryable: false,
		},
		{
			name:      "exhausted retries",
			err:       &ExhaustedRetriesError{JobID: "job-1", Retries: 3, LastErr: "timeout"},
			retryable: false,
		},
		{
			name:      "wrapped extract failure",
			err:       fmt.Errorf("handle item: %w", &ExtractError{URL: "https://example.com/a", Reason: "bad markup"}),
			retryable: false,
		},
		{
			name:      "wrapped fetch failure",
			err:       fmt.Errorf("handle item: %w", &FetchError{URL: "https://example.com/a", Err: errors.New("reset")}),
			retryable: true,
		},
		{
			name:      "plain error assumed transient",
			err:       errors.New("connection refused"),
			retryable: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.retryable, IsRetryable(tc.err))
		})
	}
}

func TestFetchErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := &FetchError{URL: "https://example.com/list", Err: cause}

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "https://example.com/list")
}

func TestStorageErrorUnwrap(t *testing.T) {
	cause := errors.New("access denied")
	err := &StorageError{Op: "head", Key: "src/abc/video_00.mp4", Err: cause}

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "head")
	assert.Contains(t, err.Error(), "src/abc/video_00.mp4")
}

func TestExhaustedRetriesErrorMessage(t *testing.T) {
	err := &ExhaustedRetriesError{JobID: "job-9", Retries: 5, LastErr: "fetch failed"}

	assert.Contains(t, err.Error(), "job-9")
	assert.Contains(t, err.Error(), "5")
	assert.Contains(t, err.Error(), "fetch failed")
}

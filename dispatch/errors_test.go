package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNetError struct{ timeout bool }

func (e fakeNetError) Error() string   { return "fake net error" }
func (e fakeNetError) Timeout() bool   { return e.timeout }
func (e fakeNetError) Temporary() bool { return false }

func TestClassifyTransportError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    interface{}
		network bool
	}{
		{
			name:    "deadline exceeded",
			err:     fmt.Errorf("request: %w", context.DeadlineExceeded),
			want:    &TimeoutError{},
			network: true,
		},
		{
			name:    "net timeout",
			err:     fakeNetError{timeout: true},
			want:    &TimeoutError{},
			network: true,
		},
		{
			name:    "url error wrapping connection refused",
			err:     &url.Error{Op: "Post", URL: "http://x", Err: errors.New("connection refused")},
			want:    &NetworkError{},
			network: true,
		},
		{
			name:    "bare error",
			err:     errors.New("something broke"),
			want:    &NetworkError{},
			network: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyTransportError(tt.err, "https://hooks.example.com", 30*time.Second)
			switch tt.want.(type) {
			case *TimeoutError:
				var te *TimeoutError
				require.ErrorAs(t, got, &te)
			case *NetworkError:
				var ne *NetworkError
				require.ErrorAs(t, got, &ne)
			}
			assert.Equal(t, tt.network, isNetworkClass(got))
		})
	}

	assert.Nil(t, classifyTransportError(nil, "https://x", time.Second))
}

func TestIsNetworkClass(t *testing.T) {
	assert.True(t, isNetworkClass(&NetworkError{URL: "http://x", Err: errors.New("refused")}))
	assert.True(t, isNetworkClass(&TimeoutError{URL: "http://x", Timeout: time.Second}))
	assert.True(t, isNetworkClass(fmt.Errorf("wrapped: %w", &NetworkError{URL: "http://x"})))

	assert.False(t, isNetworkClass(&HTTPStatusError{URL: "http://x", StatusCode: 500}))
	assert.False(t, isNetworkClass(&ContentShapeError{Reason: "missing body"}))
	assert.False(t, isNetworkClass(&ValidationError{Message: "bad input"}))
	assert.False(t, isNetworkClass(errors.New("plain")))
}

func TestNetworkErrorUnwrap(t *testing.T) {
	cause := &net.OpError{Op: "dial", Err: errors.New("refused")}
	err := &NetworkError{URL: "http://x", Err: cause}
	assert.ErrorIs(t, err, cause)
}

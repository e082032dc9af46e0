package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHTTPProbe(t *testing.T) {
	ctx := context.Background()

	t.Run("any response is reachable", func(t *testing.T) {
		var method string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			method = r.Method
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		assert.True(t, NewHTTPProbe(srv.URL, time.Second).Reachable(ctx))
		assert.Equal(t, http.MethodHead, method)
	})

	t.Run("closed server is offline", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		assert.False(t, NewHTTPProbe(url, time.Second).Reachable(ctx))
	})

	t.Run("timeout is offline", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-release
		}))
		defer srv.Close()
		defer close(release)

		assert.False(t, NewHTTPProbe(srv.URL, 50*time.Millisecond).Reachable(ctx))
	})

	t.Run("malformed url is offline", func(t *testing.T) {
		assert.False(t, NewHTTPProbe("://nope", time.Second).Reachable(ctx))
	})
}

func TestStaticAndFunc(t *testing.T) {
	assert.True(t, Static(true).Reachable(context.Background()))
	assert.False(t, Static(false).Reachable(context.Background()))

	calls := 0
	p := ProbeFunc(func(context.Context) bool { calls++; return calls > 1 })
	assert.False(t, p.Reachable(context.Background()))
	assert.True(t, p.Reachable(context.Background()))
}

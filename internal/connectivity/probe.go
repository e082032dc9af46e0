// Package connectivity answers whether the remote backend is worth talking to right now.
package connectivity

import (
	"context"
	"net/http"
	"time"

	"github.com/zene/zenesync/internal/observability"
)

// Prober reports reachability. The answer is advisory; callers still handle remote failures.
type Prober interface {
	Reachable(ctx context.Context) bool
}

// ProbeFunc adapts a function to Prober
type ProbeFunc func(ctx context.Context) bool

func (f ProbeFunc) Reachable(ctx context.Context) bool {
	return f(ctx)
}

// Static always answers the same
type Static bool

func (s Static) Reachable(context.Context) bool {
	return bool(s)
}

// HTTPProbe issues a HEAD request to a known URL. Any response, whatever its status, counts as
// reachable; transport errors and timeouts count as offline.
type HTTPProbe struct {
	url    string
	client *http.Client
	logger *observability.Logger
}

// NewHTTPProbe creates a probe against url
func NewHTTPProbe(url string, timeout time.Duration) *HTTPProbe {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProbe{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: observability.GetLogger().WithField("component", "connectivity"),
	}
}

func (p *HTTPProbe) Reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		p.logger.Debugf("Invalid probe request: %v", err)
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debugf("Probe failed, treating as offline: %v", err)
		return false
	}
	resp.Body.Close()
	return true
}

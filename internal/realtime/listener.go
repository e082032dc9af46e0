// Package realtime subscribes to the server's change feed and refreshes local caches when another
// device writes to one of the user's tables.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/zene/zenesync/internal/models"
	"github.com/zene/zenesync/internal/observability"
)

// Handler reacts to one change event. Errors are logged and do not close the feed.
type Handler func(ctx context.Context, event models.ChangeEvent) error

// Listener keeps a websocket subscription open for one user, reconnecting with backoff
type Listener struct {
	url          string
	apiKey       string
	apiKeyHeader string
	handler      Handler
	dialer       *websocket.Dialer
	logger       *observability.Logger

	// MinBackoff and MaxBackoff bound the reconnect delay
	MinBackoff time.Duration
	MaxBackoff time.Duration

	mu        sync.Mutex
	connected bool
}

// NewListener builds a listener for the server at baseURL (http or https)
func NewListener(baseURL, apiKey, apiKeyHeader, userID string, handler Handler) (*Listener, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/api/ws")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("user_id", userID)
	u.RawQuery = q.Encode()

	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}

	return &Listener{
		url:          u.String(),
		apiKey:       apiKey,
		apiKeyHeader: apiKeyHeader,
		handler:      handler,
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:       observability.GetLogger().WithFields(map[string]interface{}{"component": "realtime", "user_id": userID}),
		MinBackoff:   time.Second,
		MaxBackoff:   time.Minute,
	}, nil
}

// Connected reports whether the feed is currently open
func (l *Listener) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *Listener) setConnected(v bool) {
	l.mu.Lock()
	l.connected = v
	l.mu.Unlock()
}

// Run blocks until ctx is cancelled, reconnecting whenever the feed drops
func (l *Listener) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.MinBackoff
	b.MaxInterval = l.MaxBackoff

	for {
		err := l.listen(ctx, b.Reset)
		if ctx.Err() != nil {
			return nil
		}

		wait := b.NextBackOff()
		l.logger.Warnf("Change feed closed, reconnecting in %s: %v", wait, err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (l *Listener) listen(ctx context.Context, onConnect func()) error {
	header := http.Header{}
	if l.apiKey != "" {
		header.Set(l.apiKeyHeader, l.apiKey)
	}

	conn, resp, err := l.dialer.DialContext(ctx, l.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return err
	}
	defer conn.Close()

	onConnect()
	l.setConnected(true)
	defer l.setConnected(false)
	l.logger.Info("Change feed connected")

	// Unblock ReadMessage on shutdown
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return errors.New("server closed the feed")
			}
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		l.dispatch(ctx, data)
	}
}

func (l *Listener) dispatch(ctx context.Context, data []byte) {
	var msg models.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		l.logger.Warnf("Invalid change feed message: %v", err)
		return
	}
	if msg.Type != models.WSTypeRowChanged {
		return
	}

	var event models.ChangeEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		l.logger.Warnf("Invalid change event: %v", err)
		return
	}

	if err := l.handler(ctx, event); err != nil {
		l.logger.WithField("table", event.Table).Warnf("Failed to apply change event: %v", err)
	}
}

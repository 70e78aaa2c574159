package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentworkforce/hearthboard/internal/model"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultReadLimit    = 1 << 20

	// Close codes the feed server uses to reject a credential.
	closeUnauthorized websocket.StatusCode = 4001
	closeForbidden    websocket.StatusCode = 4003
)

type WebSocketOptions struct {
	URL          string
	Token        string
	HouseholdID  string
	Tables       []model.EntityType
	HTTPClient   *http.Client
	PingInterval time.Duration
	ReadLimit    int64
}

type WebSocketDialer struct {
	url          string
	token        string
	householdID  string
	tables       []model.EntityType
	httpClient   *http.Client
	pingInterval time.Duration
	readLimit    int64
}

type subscribeFrame struct {
	Type        string             `json:"type"`
	HouseholdID string             `json:"householdId"`
	Tables      []model.EntityType `json:"tables"`
}

func NewWebSocketDialer(opts WebSocketOptions) (*WebSocketDialer, error) {
	raw := strings.TrimSpace(opts.URL)
	if raw == "" {
		return nil, fmt.Errorf("feed url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	householdID := strings.TrimSpace(opts.HouseholdID)
	if householdID == "" {
		return nil, fmt.Errorf("household id is required")
	}
	q := parsed.Query()
	q.Set("household_id", householdID)
	parsed.RawQuery = q.Encode()

	tables := opts.Tables
	if len(tables) == 0 {
		tables = model.EntityTypes
	}
	pingInterval := opts.PingInterval
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	readLimit := opts.ReadLimit
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	return &WebSocketDialer{
		url:          parsed.String(),
		token:        strings.TrimSpace(opts.Token),
		householdID:  householdID,
		tables:       append([]model.EntityType(nil), tables...),
		httpClient:   opts.HTTPClient,
		pingInterval: pingInterval,
		readLimit:    readLimit,
	}, nil
}

func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	header := http.Header{}
	if d.token != "" {
		header.Set("Authorization", "Bearer "+d.token)
	}
	c, resp, err := websocket.Dial(ctx, d.url, &websocket.DialOptions{
		HTTPClient: d.httpClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: feed handshake returned %d", model.ErrUnauthorized, resp.StatusCode)
		}
		return nil, err
	}
	c.SetReadLimit(d.readLimit)
	frame := subscribeFrame{Type: "subscribe", HouseholdID: d.householdID, Tables: d.tables}
	if err := wsjson.Write(ctx, c, frame); err != nil {
		_ = c.Close(websocket.StatusInternalError, "subscribe failed")
		return nil, err
	}
	conn := &wsConn{c: c, done: make(chan struct{})}
	go conn.keepalive(d.pingInterval)
	return conn, nil
}

type wsConn struct {
	c         *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	if err != nil {
		switch websocket.CloseStatus(err) {
		case closeUnauthorized, closeForbidden, websocket.StatusPolicyViolation:
			return nil, fmt.Errorf("%w: %v", model.ErrUnauthorized, err)
		}
		return nil, err
	}
	return data, nil
}

func (w *wsConn) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.c.Close(websocket.StatusNormalClosure, "")
	})
	return err
}

// keepalive pings the server so half-open connections are noticed. A failed
// ping closes the connection, which surfaces as a Read error.
func (w *wsConn) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval/2)
			err := w.c.Ping(ctx)
			cancel()
			if err != nil {
				w.closeOnce.Do(func() {
					close(w.done)
					_ = w.c.Close(websocket.StatusGoingAway, "ping timeout")
				})
				return
			}
		}
	}
}

package realtime

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/agentworkforce/hearthboard/internal/model"
)

const (
	DefaultPostgresChannel = "hearthboard_changes"

	postgresOperationTimeout = 5 * time.Second
	postgresPingInterval     = 90 * time.Second
	postgresMinReconnect     = time.Second
	postgresMaxReconnect     = 30 * time.Second
)

// ErrListenerReset reports that the notification connection was lost and
// re-established underneath the listener; notifications may have been missed.
var ErrListenerReset = errors.New("postgres listener connection reset")

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresDialer subscribes to LISTEN/NOTIFY on a database that publishes
// change frames with pg_notify. Each notification payload is one feed frame.
// The database publishes each household's changes on its own channel,
// "<channel>_<household id>".
type PostgresDialer struct {
	dsn          string
	channel      string
	householdID  string
	pingInterval time.Duration
	openDB       sqlOpenFunc
	newListener  func(dsn string) listener
}

type listener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

func NewPostgresDialer(dsn, channel, householdID string) (*PostgresDialer, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	householdID = strings.TrimSpace(householdID)
	if householdID == "" {
		return nil, fmt.Errorf("household id is required")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultPostgresChannel
	}
	return &PostgresDialer{
		dsn:          dsn,
		channel:      HouseholdChannel(channel, householdID),
		householdID:  householdID,
		pingInterval: postgresPingInterval,
		openDB:       sql.Open,
		newListener: func(dsn string) listener {
			return pq.NewListener(dsn, postgresMinReconnect, postgresMaxReconnect, nil)
		},
	}, nil
}

// HouseholdChannel names the notification channel carrying one household's
// changes.
func HouseholdChannel(channel, householdID string) string {
	return channel + "_" + householdID
}

func (d *PostgresDialer) Dial(ctx context.Context) (Conn, error) {
	if err := d.precheck(ctx); err != nil {
		return nil, err
	}
	l := d.newListener(d.dsn)
	listened := make(chan error, 1)
	go func() { listened <- l.Listen(d.channel) }()
	select {
	case err := <-listened:
		if err != nil {
			_ = l.Close()
			return nil, classifyPostgresError(err)
		}
	case <-ctx.Done():
		_ = l.Close()
		return nil, ctx.Err()
	}
	return &pgConn{l: l, householdID: d.householdID, pingInterval: d.pingInterval}, nil
}

// precheck opens a plain connection first so a rejected credential is
// reported as such instead of being retried inside the listener.
func (d *PostgresDialer) precheck(ctx context.Context) error {
	db, err := d.openDB("postgres", d.dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	pingCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return classifyPostgresError(err)
	}
	return nil
}

func classifyPostgresError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "28P01", "28000":
			return fmt.Errorf("%w: %v", model.ErrUnauthorized, err)
		}
	}
	return err
}

type pgConn struct {
	l            listener
	householdID  string
	pingInterval time.Duration
	closeOnce    sync.Once
	closeErr     error
}

func (c *pgConn) Read(ctx context.Context) ([]byte, error) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case n, ok := <-c.l.NotificationChannel():
			if !ok {
				return nil, errors.New("postgres listener closed")
			}
			if n == nil {
				return nil, ErrListenerReset
			}
			if !c.ownFrame(n.Extra) {
				continue
			}
			return []byte(n.Extra), nil
		case <-ticker.C:
			if err := c.l.Ping(); err != nil {
				return nil, fmt.Errorf("postgres listener ping: %w", err)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// ownFrame drops frames stamped with another household. Frames without a
// household stamp are trusted to the channel.
func (c *pgConn) ownFrame(payload string) bool {
	if c.householdID == "" {
		return true
	}
	var stamp struct {
		HouseholdID string `json:"household_id"`
	}
	if err := json.Unmarshal([]byte(payload), &stamp); err != nil || stamp.HouseholdID == "" {
		return true
	}
	return stamp.HouseholdID == c.householdID
}

func (c *pgConn) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.l.Close() })
	return c.closeErr
}

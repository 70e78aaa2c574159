package realtime

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/agentworkforce/hearthboard/internal/model"
)

type fakeListener struct {
	notify    chan *pq.Notification
	listenErr error
	pingErr   error
	channel   string
	closed    atomic.Bool
}

func (l *fakeListener) Listen(channel string) error {
	l.channel = channel
	return l.listenErr
}
func (l *fakeListener) NotificationChannel() <-chan *pq.Notification { return l.notify }
func (l *fakeListener) Ping() error                                  { return l.pingErr }
func (l *fakeListener) Close() error {
	l.closed.Store(true)
	return nil
}

// reachableDriver accepts every connection so the dial precheck passes
// without a database.
type reachableDriver struct{}

type reachableConn struct{}

const reachableDriverName = "hearthboard-reachable"

func init() { sql.Register(reachableDriverName, reachableDriver{}) }

func (reachableDriver) Open(string) (driver.Conn, error)  { return reachableConn{}, nil }
func (reachableConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (reachableConn) Close() error                        { return nil }
func (reachableConn) Begin() (driver.Tx, error)           { return nil, errors.New("not supported") }

func failingOpen(err error) sqlOpenFunc {
	return func(string, string) (*sql.DB, error) { return nil, err }
}

func TestPgConnDeliversPayloadsAndReportsReset(t *testing.T) {
	l := &fakeListener{notify: make(chan *pq.Notification, 2)}
	l.notify <- &pq.Notification{Channel: "c", Extra: `{"table":"events"}`}
	l.notify <- nil
	conn := &pgConn{l: l, pingInterval: time.Minute}

	data, err := conn.Read(context.Background())
	if err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if string(data) != `{"table":"events"}` {
		t.Fatalf("unexpected payload %q", data)
	}
	if _, err := conn.Read(context.Background()); !errors.Is(err, ErrListenerReset) {
		t.Fatalf("expected ErrListenerReset, got %v", err)
	}
	_ = conn.Close()
	_ = conn.Close()
	if !l.closed.Load() {
		t.Fatalf("expected listener to be closed")
	}
}

func TestPgConnPingFailureEndsRead(t *testing.T) {
	l := &fakeListener{notify: make(chan *pq.Notification), pingErr: errors.New("broken pipe")}
	conn := &pgConn{l: l, pingInterval: 5 * time.Millisecond}
	_, err := conn.Read(context.Background())
	if err == nil || !strings.Contains(err.Error(), "broken pipe") {
		t.Fatalf("expected ping error, got %v", err)
	}
}

func TestPostgresDialerPrecheckFailureSkipsListener(t *testing.T) {
	d, err := NewPostgresDialer("postgres://display@db/hearth", "", "hh_1")
	if err != nil {
		t.Fatalf("new dialer: %v", err)
	}
	if d.channel != DefaultPostgresChannel+"_hh_1" {
		t.Fatalf("expected default household channel, got %q", d.channel)
	}
	d.openDB = failingOpen(errors.New("driver unavailable"))
	var created atomic.Bool
	d.newListener = func(string) listener {
		created.Store(true)
		return &fakeListener{notify: make(chan *pq.Notification)}
	}
	if _, err := d.Dial(context.Background()); err == nil {
		t.Fatalf("expected dial error")
	}
	if created.Load() {
		t.Fatalf("listener should not be created when precheck fails")
	}
}

func TestClassifyPostgresErrorMapsAuthCodes(t *testing.T) {
	for _, code := range []pq.ErrorCode{"28P01", "28000"} {
		err := classifyPostgresError(fmt.Errorf("connect: %w", &pq.Error{Code: code, Message: "password authentication failed"}))
		if !errors.Is(err, model.ErrUnauthorized) {
			t.Fatalf("code %s: expected ErrUnauthorized, got %v", code, err)
		}
	}
	other := classifyPostgresError(&pq.Error{Code: "57P01", Message: "terminating connection"})
	if errors.Is(other, model.ErrUnauthorized) {
		t.Fatalf("admin shutdown should not be treated as auth failure")
	}
}

func TestNewPostgresDialerRequiresDSN(t *testing.T) {
	if _, err := NewPostgresDialer("  ", "x", "hh_1"); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
	if _, err := NewPostgresDialer("postgres://display@db/hearth", "x", " "); err == nil {
		t.Fatalf("expected error for empty household")
	}
}

func TestPostgresDialerListensOnHouseholdChannel(t *testing.T) {
	d, err := NewPostgresDialer("postgres://display@db/hearth", "changes", "hh_1")
	if err != nil {
		t.Fatalf("new dialer: %v", err)
	}
	d.openDB = func(string, string) (*sql.DB, error) { return sql.Open(reachableDriverName, "") }
	l := &fakeListener{notify: make(chan *pq.Notification)}
	d.newListener = func(string) listener { return l }

	conn, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if l.channel != "changes_hh_1" {
		t.Fatalf("expected LISTEN on changes_hh_1, got %q", l.channel)
	}
}

func TestPgConnSkipsFramesForOtherHouseholds(t *testing.T) {
	l := &fakeListener{notify: make(chan *pq.Notification, 3)}
	l.notify <- &pq.Notification{Extra: `{"household_id":"hh_2","table":"events","eventType":"DELETE","old":{"id":"foreign"}}`}
	l.notify <- &pq.Notification{Extra: `{"household_id":"hh_1","table":"events","eventType":"DELETE","old":{"id":"mine"}}`}
	l.notify <- &pq.Notification{Extra: `{"table":"events","eventType":"DELETE","old":{"id":"unstamped"}}`}
	conn := &pgConn{l: l, householdID: "hh_1", pingInterval: time.Minute}

	for _, want := range []string{"mine", "unstamped"} {
		data, err := conn.Read(context.Background())
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if strings.Contains(string(data), "foreign") {
			t.Fatalf("frame for another household was delivered: %s", data)
		}
		if !strings.Contains(string(data), want) {
			t.Fatalf("expected frame %q, got %s", want, data)
		}
	}
}

func TestPostgresIntegrationListenerReceivesNotify(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("HEARTHBOARD_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("HEARTHBOARD_TEST_POSTGRES_DSN not set")
	}
	channel := fmt.Sprintf("hearthboard_it_%d", time.Now().UnixNano())
	d, err := NewPostgresDialer(dsn, channel, "hh_it")
	if err != nil {
		t.Fatalf("new dialer: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := d.Dial(ctx)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	payload := `{"table":"events","eventType":"DELETE","old":{"id":"e1"}}`
	if _, err := db.ExecContext(ctx, "SELECT pg_notify($1, $2)", HouseholdChannel(channel, "other"), `{"table":"events","eventType":"DELETE","old":{"id":"foreign"}}`); err != nil {
		t.Fatalf("pg_notify other household: %v", err)
	}
	if _, err := db.ExecContext(ctx, "SELECT pg_notify($1, $2)", HouseholdChannel(channel, "hh_it"), payload); err != nil {
		t.Fatalf("pg_notify: %v", err)
	}
	data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != payload {
		t.Fatalf("unexpected payload %q", data)
	}
}

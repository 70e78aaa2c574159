package realtime

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestBuildDialerFromURLPicksTransportByScheme(t *testing.T) {
	opts := DialerOptions{Token: "t", HouseholdID: "house-1", Channel: "changes"}

	for _, raw := range []string{"wss://feed.example.com/v1/feed", "http://localhost:8080/feed"} {
		dialer, err := BuildDialerFromURL(raw, opts)
		if err != nil {
			t.Fatalf("build %s: %v", raw, err)
		}
		ws, ok := dialer.(*WebSocketDialer)
		if !ok {
			t.Fatalf("expected *WebSocketDialer for %s, got %T", raw, dialer)
		}
		if !strings.Contains(ws.url, "household_id=house-1") {
			t.Fatalf("expected household query on %q", ws.url)
		}
	}

	dialer, err := BuildDialerFromURL("postgresql://display@db:5432/hearth?sslmode=disable", opts)
	if err != nil {
		t.Fatalf("build postgres: %v", err)
	}
	pg, ok := dialer.(*PostgresDialer)
	if !ok {
		t.Fatalf("expected *PostgresDialer, got %T", dialer)
	}
	if pg.channel != "changes_house-1" {
		t.Fatalf("expected household channel changes_house-1, got %q", pg.channel)
	}
	if pg.householdID != "house-1" {
		t.Fatalf("expected household house-1, got %q", pg.householdID)
	}
}

func TestBuildDialerFromURLRejectsUnknownSchemes(t *testing.T) {
	for _, raw := range []string{"", "localhost/feed", "mqtt://broker/feed"} {
		if _, err := BuildDialerFromURL(raw, DialerOptions{HouseholdID: "h"}); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestRegisterDialerFactory(t *testing.T) {
	scheme := "dialertestcustom"
	sentinel := errors.New("custom dial")
	RegisterDialerFactory(scheme, func(rawURL string, opts DialerOptions) (Dialer, error) {
		return DialerFunc(func(context.Context) (Conn, error) { return nil, sentinel }), nil
	})
	dialer, err := BuildDialerFromURL(strings.ToUpper(scheme)+"://example", DialerOptions{})
	if err != nil {
		t.Fatalf("build dialer via registered factory failed: %v", err)
	}
	if _, err := dialer.Dial(context.Background()); !errors.Is(err, sentinel) {
		t.Fatalf("expected registered dialer to be used, got %v", err)
	}
}

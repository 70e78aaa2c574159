package backend

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentworkforce/hearthboard/internal/model"
)

func mustDeviceToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".c2ln"
}

func TestInspectTokenReadsDeviceClaims(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	token := mustDeviceToken(t, map[string]any{
		"household_id": "house_1",
		"display_id":   "display_7",
		"exp":          now.Add(time.Hour).Unix(),
	})
	claims, err := InspectToken("Bearer "+token, now)
	if err != nil {
		t.Fatalf("inspect token: %v", err)
	}
	if claims.HouseholdID != "house_1" || claims.DisplayID != "display_7" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !claims.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %s", claims.ExpiresAt)
	}
}

func TestInspectTokenRejectsExpiredToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	token := mustDeviceToken(t, map[string]any{"household_id": "house_1", "exp": now.Unix()})
	claims, err := InspectToken(token, now)
	if !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for expired token, got %v", err)
	}
	if claims.HouseholdID != "house_1" {
		t.Fatalf("expected claims to be returned alongside the error, got %+v", claims)
	}
}

func TestInspectTokenWithoutExpNeverExpires(t *testing.T) {
	token := mustDeviceToken(t, map[string]any{"display_id": "display_7"})
	if _, err := InspectToken(token, time.Now()); err != nil {
		t.Fatalf("expected token without exp to be accepted, got %v", err)
	}
}

func TestInspectTokenRejectsMalformedInput(t *testing.T) {
	for _, raw := range []string{"", "abc", "a.b", "a.!!!.c", "a." + base64.RawURLEncoding.EncodeToString([]byte(`{"exp":"soon"}`)) + ".c"} {
		if _, err := InspectToken(raw, time.Now()); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestLoadTokenReportsMissingCredential(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadToken(filepath.Join(dir, "missing")); !errors.Is(err, model.ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential for missing file, got %v", err)
	}
	empty := filepath.Join(dir, "empty")
	if err := os.WriteFile(empty, []byte("  \n"), 0o600); err != nil {
		t.Fatalf("write empty token: %v", err)
	}
	if _, err := LoadToken(empty); !errors.Is(err, model.ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential for empty file, got %v", err)
	}
	if _, err := LoadToken(""); !errors.Is(err, model.ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential for unset path, got %v", err)
	}

	good := filepath.Join(dir, "token")
	if err := os.WriteFile(good, []byte("device-token\n"), 0o600); err != nil {
		t.Fatalf("write token: %v", err)
	}
	token, err := LoadToken(good)
	if err != nil || token != "device-token" {
		t.Fatalf("expected trimmed token, got %q (%v)", token, err)
	}
}

package backend

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agentworkforce/hearthboard/internal/model"
)

// DeviceClaims are the claims the display reads from its own credential.
// The signature is not checked here; the API does that.
type DeviceClaims struct {
	HouseholdID string
	DisplayID   string
	ExpiresAt   time.Time
}

// LoadToken reads the device credential from path.
func LoadToken(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("%w: no token file configured", model.ErrNoCredential)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s does not exist", model.ErrNoCredential, path)
		}
		return "", err
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("%w: %s is empty", model.ErrNoCredential, path)
	}
	return token, nil
}

// InspectToken decodes the JWT payload of a device credential. An expired
// token is reported as model.ErrUnauthorized. A token without an exp claim
// never expires.
func InspectToken(raw string, now time.Time) (DeviceClaims, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return DeviceClaims{}, errors.New("invalid jwt format")
	}
	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return DeviceClaims{}, errors.New("invalid jwt payload")
	}
	var payload map[string]any
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return DeviceClaims{}, errors.New("invalid jwt payload")
	}

	claims := DeviceClaims{}
	claims.HouseholdID, _ = payload["household_id"].(string)
	claims.DisplayID, _ = payload["display_id"].(string)
	if v, ok := payload["exp"]; ok {
		exp, err := parseExp(v)
		if err != nil {
			return DeviceClaims{}, errors.New("invalid exp claim")
		}
		claims.ExpiresAt = time.Unix(exp, 0)
		if now.Unix() >= exp {
			return claims, fmt.Errorf("%w: device token expired at %s", model.ErrUnauthorized, claims.ExpiresAt.UTC().Format(time.RFC3339))
		}
	}
	return claims, nil
}

func parseExp(v any) (int64, error) {
	switch typed := v.(type) {
	case float64:
		if math.IsNaN(typed) || math.IsInf(typed, 0) {
			return 0, errors.New("invalid exp")
		}
		return int64(typed), nil
	case string:
		return strconv.ParseInt(typed, 10, 64)
	case json.Number:
		return typed.Int64()
	default:
		return 0, errors.New("invalid exp")
	}
}

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

func TestPlayerIDFromBearerValid(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"player_id": "player-1",
		"exp":       time.Now().Add(time.Hour).Unix(),
	}, testSecret)

	id, err := PlayerIDFromBearer("Bearer "+signed, testSecret)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "player-1" {
		t.Errorf("expected player-1, got %s", id)
	}
}

func TestPlayerIDFromBearerMissingHeader(t *testing.T) {
	if _, err := PlayerIDFromBearer("", testSecret); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestPlayerIDFromBearerWrongScheme(t *testing.T) {
	if _, err := PlayerIDFromBearer("Basic abc123", testSecret); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestPlayerIDFromBearerWrongSecret(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{"player_id": "player-1"}, testSecret)
	if _, err := PlayerIDFromBearer("Bearer "+signed, "other-secret"); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestPlayerIDFromBearerMissingClaim(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{"sub": "player-1"}, testSecret)
	if _, err := PlayerIDFromBearer("Bearer "+signed, testSecret); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestPlayerIDFromBearerExpired(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"player_id": "player-1",
		"exp":       time.Now().Add(-time.Hour).Unix(),
	}, testSecret)
	if _, err := PlayerIDFromBearer("Bearer "+signed, testSecret); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

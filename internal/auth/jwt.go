// Package auth is a thin adapter over the JWT/Steam authentication
// flow that §1 explicitly places out of scope: the core never
// validates credentials or issues tokens, it only extracts the player
// id the upstream auth flow already vouched for. Grounded on the
// teacher's AuthMiddleware (internal/api/handlers/auth.go), narrowed to
// the single claim the matchmaking core needs.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/playmatatu/matchcore/internal/models"
)

var ErrInvalidToken = errors.New("auth: invalid or missing bearer token")

// PlayerIDFromBearer extracts the player_id claim from a "Bearer <jwt>"
// header value, HS256-signed with secret. The JWT issuance/refresh flow
// itself lives entirely outside this module.
func PlayerIDFromBearer(header, secret string) (models.PlayerID, error) {
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return "", ErrInvalidToken
	}
	raw := strings.TrimPrefix(header, "Bearer ")

	parsed, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	playerID, ok := claims["player_id"].(string)
	if !ok || playerID == "" {
		return "", ErrInvalidToken
	}
	return models.PlayerID(playerID), nil
}

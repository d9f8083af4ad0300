package jwt_parse

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/joy095/gobus/models/shared_models"
	"github.com/joy095/gobus/models/ticket_models"
)

var (
	ErrNoToken          = errors.New("no authorization token")
	ErrInvalidFormat    = errors.New("invalid authorization format")
	ErrInvalidToken     = errors.New("invalid token")
	ErrMissingPassenger = errors.New("token does not identify a passenger")
)

// PassengerClaims is what the identity service puts in access tokens.
type PassengerClaims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrNoToken
	}
	if len(header) > 7 && strings.ToLower(header[:7]) == "bearer " {
		return strings.TrimSpace(header[7:]), nil
	}
	return "", ErrInvalidFormat
}

// ParseCaller validates an HMAC-signed access token and returns the passenger
// it identifies. The subject must be a UUID and the token must expire. Ticket
// tokens are rejected even when signed with the same key.
func ParseCaller(tokenString string, secret []byte) (shared_models.Caller, error) {
	claims := &PassengerClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return shared_models.Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return shared_models.Caller{}, ErrInvalidToken
	}
	if claims.Issuer == ticket_models.TicketIssuer {
		return shared_models.Caller{}, fmt.Errorf("%w: ticket tokens cannot authenticate", ErrInvalidToken)
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil || id == uuid.Nil {
		return shared_models.Caller{}, ErrMissingPassenger
	}
	return shared_models.Caller{
		PassengerID: id,
		Name:        claims.Name,
		Email:       claims.Email,
		Phone:       claims.Phone,
		Role:        claims.Role,
	}, nil
}

// IssueToken signs an access token for caller. The identity service owns
// token issuance in production; this is used by tests and local tooling.
func IssueToken(caller shared_models.Caller, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := PassengerClaims{
		Name:  caller.Name,
		Email: caller.Email,
		Phone: caller.Phone,
		Role:  caller.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.PassengerID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

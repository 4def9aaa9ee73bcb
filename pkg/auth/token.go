// Package auth signs and verifies the operator access tokens presented to the
// API. Tokens are HS256 JWTs whose subject is the operator id.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/cim-backend/pkg/config"
	"github.com/angelmondragon/cim-backend/pkg/enums"
)

var (
	ErrNoSecret       = errors.New("auth: signing secret not configured")
	ErrMissingBearer  = errors.New("auth: bearer token missing")
	ErrInvalidSubject = errors.New("auth: token subject is not an operator id")
	ErrInvalidRole    = errors.New("auth: token carries an unknown role")
)

// Identity is the authenticated operator behind a request.
type Identity struct {
	UserID uuid.UUID
	Role   enums.OperatorRole
}

type operatorClaims struct {
	Role enums.OperatorRole `json:"role"`
	jwt.RegisteredClaims
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", ErrMissingBearer
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", ErrMissingBearer
	}
	return token, nil
}

// Signer issues tokens. The identity store owns issuance in production;
// the signer exists for tooling and tests.
type Signer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewSigner(cfg config.JWTConfig) *Signer {
	return &Signer{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    time.Duration(cfg.ExpirationMinutes) * time.Minute,
	}
}

func (s *Signer) Sign(now time.Time, id Identity) (string, error) {
	switch {
	case len(s.secret) == 0:
		return "", ErrNoSecret
	case s.ttl <= 0:
		return "", errors.New("auth: token lifetime must be positive")
	case id.UserID == uuid.Nil:
		return "", ErrInvalidSubject
	case !id.Role.IsValid():
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, id.Role)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, operatorClaims{
		Role: id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.secret)
}

// Verifier checks signature, issuer and expiry, then resolves the operator.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewVerifier(cfg config.JWTConfig, opts ...jwt.ParserOption) *Verifier {
	opts = append([]jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
	}, opts...)
	return &Verifier{secret: []byte(cfg.Secret), parser: jwt.NewParser(opts...)}
}

func (v *Verifier) Verify(raw string) (Identity, error) {
	if len(v.secret) == 0 {
		return Identity{}, ErrNoSecret
	}
	var claims operatorClaims
	if _, err := v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}); err != nil {
		return Identity{}, fmt.Errorf("auth: %w", err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil || userID == uuid.Nil {
		return Identity{}, ErrInvalidSubject
	}
	if !claims.Role.IsValid() {
		return Identity{}, ErrInvalidRole
	}
	return Identity{UserID: userID, Role: claims.Role}, nil
}

package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/shopcore/pkg/config"
	"github.com/angelmondragon/shopcore/pkg/enums"
)

var (
	errMissingSecret = errors.New("jwt secret is required")
	errMissingIssuer = errors.New("jwt issuer is required")
)

// AccessTokenPayload is what callers supply when minting.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   enums.ActorRole
	JTI    string
}

// AccessTokenClaims is the verified body of a bearer token.
type AccessTokenClaims struct {
	UserID uuid.UUID       `json:"user_id"`
	Role   enums.ActorRole `json:"role"`
	jwt.RegisteredClaims
}

// Codec signs and verifies HS256 access tokens for one issuer.
type Codec struct {
	key    []byte
	issuer string
	ttl    time.Duration
	parser *jwt.Parser
}

// NewCodec validates cfg. A zero ExpirationMinutes yields a verify-only codec.
func NewCodec(cfg config.JWTConfig) (*Codec, error) {
	switch {
	case cfg.Secret == "":
		return nil, errMissingSecret
	case cfg.Issuer == "":
		return nil, errMissingIssuer
	case cfg.ExpirationMinutes < 0:
		return nil, fmt.Errorf("jwt expiration minutes must be positive, got %d", cfg.ExpirationMinutes)
	}
	return &Codec{
		key:    []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    time.Duration(cfg.ExpirationMinutes) * time.Minute,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

// Mint signs a token valid from now for the configured TTL.
func (c *Codec) Mint(now time.Time, payload AccessTokenPayload) (string, error) {
	if c.ttl <= 0 {
		return "", errors.New("jwt expiration minutes must be positive")
	}
	if !payload.Role.IsValid() {
		return "", fmt.Errorf("invalid actor role %q", payload.Role)
	}

	id := strings.TrimSpace(payload.JTI)
	if id == "" {
		id = uuid.NewString()
	}
	body := AccessTokenClaims{
		UserID: payload.UserID,
		Role:   payload.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, body).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}

// Parse verifies signature, issuer, expiry and role.
func (c *Codec) Parse(raw string) (*AccessTokenClaims, error) {
	var body AccessTokenClaims
	if _, err := c.parser.ParseWithClaims(raw, &body, func(*jwt.Token) (any, error) { return c.key, nil }); err != nil {
		return nil, err
	}
	if !body.Role.IsValid() {
		return nil, fmt.Errorf("invalid actor role %q", body.Role)
	}
	return &body, nil
}

// MintAccessToken is a one-shot Mint for callers without a Codec.
func MintAccessToken(cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) (string, error) {
	codec, err := NewCodec(cfg)
	if err != nil {
		return "", err
	}
	return codec.Mint(now, payload)
}

package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer   = "medconsult"
	defaultTokenTTL = 24 * time.Hour
	minSecretLength = 32
)

// Claims is the verified content of a session token.
type Claims struct {
	Role      Role
	SubjectID int64
	IssuedAt  time.Time
	ExpiresAt time.Time
	TokenID   string
}

// signedClaims is the canonical wire shape: an explicit role claim plus a
// numeric subjectId, whatever the role.
type signedClaims struct {
	Role      Role  `json:"role"`
	SubjectID int64 `json:"subjectId"`
	jwt.RegisteredClaims
}

// parsedClaims decodes role and subjectId loosely so that a wrong claim type
// is reported as a shape problem after the signature has been checked.
type parsedClaims struct {
	Role      any `json:"role"`
	SubjectID any `json:"subjectId"`
	jwt.RegisteredClaims
}

// TokenCodec issues and parses HS256 session tokens under one shared secret.
type TokenCodec struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// CodecOption configures a TokenCodec.
type CodecOption func(*TokenCodec)

// WithIssuer overrides the iss claim written and required.
func WithIssuer(issuer string) CodecOption {
	return func(c *TokenCodec) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			c.issuer = issuer
		}
	}
}

// WithDefaultTTL sets the lifetime used when Issue is given ttl <= 0.
func WithDefaultTTL(ttl time.Duration) CodecOption {
	return func(c *TokenCodec) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewTokenCodec validates the signing secret. A missing or short secret is a
// startup misconfiguration.
func NewTokenCodec(secret string, opts ...CodecOption) (*TokenCodec, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errMissingSecret
	}
	if len(secret) < minSecretLength {
		return nil, errShortSecret
	}
	c := &TokenCodec{
		secret: []byte(secret),
		issuer: defaultIssuer,
		ttl:    defaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(c.issuer),
		jwt.WithTimeFunc(c.now),
		jwt.WithJSONNumber(),
	)
	return c, nil
}

// DefaultTTL is the lifetime applied by Issue when ttl <= 0.
func (c *TokenCodec) DefaultTTL() time.Duration { return c.ttl }

// Issue signs a token for (role, subjectID). ttl <= 0 uses the default TTL.
// Sub-second lifetimes round up to whole seconds since the exp claim carries
// no fraction. The returned time is the exp that was signed.
func (c *TokenCodec) Issue(role Role, subjectID int64, ttl time.Duration) (string, time.Time, error) {
	if !role.Valid() {
		return "", time.Time{}, fmt.Errorf("auth: cannot issue token for role %q", role)
	}
	if subjectID <= 0 {
		return "", time.Time{}, errors.New("auth: subject id must be positive")
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.now().UTC().Truncate(time.Second)
	exp := now.Add(ttl)
	if whole := exp.Truncate(time.Second); whole.Before(exp) {
		exp = whole.Add(time.Second)
	}
	claims := signedClaims{
		Role:      role,
		SubjectID: subjectID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   strconv.FormatInt(subjectID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Parse verifies the signature, then expiry, then the claim shape. Every
// failure is a *TokenError matching ErrInvalidToken.
func (c *TokenCodec) Parse(raw string) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, tokenErr(TokenMalformed, errors.New("empty token"))
	}

	var pc parsedClaims
	_, err := c.parser.ParseWithClaims(raw, &pc, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		return Claims{}, classify(err)
	}
	return shape(&pc)
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return tokenErr(TokenMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return tokenErr(TokenInvalid, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return tokenErr(TokenExpired, err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return tokenErr(TokenMalformed, err)
	default:
		return tokenErr(TokenInvalid, err)
	}
}

func shape(pc *parsedClaims) (Claims, error) {
	roleRaw, ok := pc.Role.(string)
	if !ok {
		return Claims{}, tokenErr(TokenMalformed, errors.New("role claim missing"))
	}
	role, err := ParseRole(roleRaw)
	if err != nil {
		return Claims{}, tokenErr(TokenMalformed, err)
	}
	id, err := subjectID(pc.SubjectID)
	if err != nil {
		return Claims{}, tokenErr(TokenMalformed, err)
	}
	// sub may be absent; when present it must agree with subjectId, which
	// rules out the legacy email-as-subject shape.
	if pc.Subject != "" && pc.Subject != strconv.FormatInt(id, 10) {
		return Claims{}, tokenErr(TokenMalformed, errors.New("subject does not match subjectId"))
	}
	out := Claims{Role: role, SubjectID: id, TokenID: pc.ID}
	if pc.IssuedAt != nil {
		out.IssuedAt = pc.IssuedAt.Time
	}
	if pc.ExpiresAt != nil {
		out.ExpiresAt = pc.ExpiresAt.Time
	}
	return out, nil
}

func subjectID(v any) (int64, error) {
	var id int64
	switch t := v.(type) {
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, fmt.Errorf("subjectId is not an integer: %w", err)
		}
		id = n
	case float64:
		if t != math.Trunc(t) || t > math.MaxInt64 {
			return 0, errors.New("subjectId is not an integer")
		}
		id = int64(t)
	case nil:
		return 0, errors.New("subjectId claim missing")
	default:
		return 0, fmt.Errorf("subjectId has unexpected type %T", v)
	}
	if id <= 0 {
		return 0, errors.New("subjectId must be positive")
	}
	return id, nil
}

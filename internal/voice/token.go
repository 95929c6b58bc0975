package voice

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/majordomo-sh/majordomo/internal/store"
)

// Minter issues and verifies one-time call tokens. The JWT carries only
// identity and lifetime; the database row behind its jti is what makes
// the token single-use, so a replayed URL fails even with a valid
// signature.
type Minter struct {
	secret    []byte
	tokens    *store.Tokens
	publicURL string
	ttl       time.Duration
}

// MinterOpts configures a Minter.
type MinterOpts struct {
	// Secret signs and verifies tokens (HS256). Required.
	Secret string

	// Tokens is the single-use ledger. Required.
	Tokens *store.Tokens

	// PublicURL is the externally reachable base of the voice gateway,
	// used by MintURL. Verification does not need it.
	PublicURL string

	// TTL is the token lifetime. Defaults to 10 minutes.
	TTL time.Duration
}

// NewMinter validates opts and builds a Minter.
func NewMinter(opts MinterOpts) (*Minter, error) {
	if opts.Secret == "" {
		return nil, fmt.Errorf("voice: token secret is required")
	}
	if opts.Tokens == nil {
		return nil, fmt.Errorf("voice: token store is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}
	return &Minter{
		secret:    []byte(opts.Secret),
		tokens:    opts.Tokens,
		publicURL: strings.TrimRight(opts.PublicURL, "/"),
		ttl:       opts.TTL,
	}, nil
}

// Mint records a fresh jti and returns the signed token string.
func (m *Minter) Mint(now time.Time) (string, error) {
	jti, err := m.tokens.Mint(m.ttl, now)
	if err != nil {
		return "", err
	}
	claims := jwt.MapClaims{
		"jti": jti,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(m.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("voice: sign token: %w", err)
	}
	return signed, nil
}

// MintURL mints a token and wraps it in a ready-to-open call URL. This is
// what the chat bridge hands out for the "call" command.
func (m *Minter) MintURL(ctx context.Context) (string, error) {
	if m.publicURL == "" {
		return "", fmt.Errorf("voice: public url is not configured")
	}
	signed, err := m.Mint(time.Now())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/ws?token=%s", m.publicURL, url.QueryEscape(signed)), nil
}

// Verify checks the signature and claims, then spends the token. A second
// Verify of the same token fails on the spend even though the signature
// still checks out.
func (m *Minter) Verify(tokenString string, now time.Time) error {
	tok, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil {
		return fmt.Errorf("voice: parse token: %w", err)
	}
	if !tok.Valid {
		return fmt.Errorf("voice: token is not valid")
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return fmt.Errorf("voice: unexpected claims type")
	}
	jti, _ := claims["jti"].(string)
	if jti == "" {
		return fmt.Errorf("voice: token has no jti")
	}
	if err := m.tokens.Consume(jti, now); err != nil {
		return fmt.Errorf("voice: spend token: %w", err)
	}
	return nil
}

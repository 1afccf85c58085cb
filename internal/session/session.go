// Package session issues and parses the HS256 tokens returned after a
// successful wallet login.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

const issuer = "chain-data-gateway"

var ErrInvalidToken = errors.New("invalid session token")

// Claims identifies the wallet a session belongs to.
type Claims struct {
	jwt.Claims
	Chain string `json:"chain"`
}

// Token is a signed session token and its expiry.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Subject   string    `json:"publicKey"`
}

// Issuer signs and parses session tokens with a shared secret.
type Issuer struct {
	secret []byte
	signer jose.Signer
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("session secret must be at least 32 bytes")
	}
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: []byte(secret)},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), signer: signer, ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for the wallet address on chain.
func (i *Issuer) Issue(subject, chain string) (*Token, error) {
	now := i.now().UTC()
	expiresAt := now.Add(i.ttl)

	claims := Claims{
		Claims: jwt.Claims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(expiresAt),
		},
		Chain: chain,
	}
	raw, err := jwt.Signed(i.signer).Claims(claims).Serialize()
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}
	return &Token{Value: raw, ExpiresAt: expiresAt.Truncate(time.Second), Subject: subject}, nil
}

// Parse verifies the signature and time claims of raw.
func (i *Issuer) Parse(raw string) (*Claims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var claims Claims
	if err := tok.Claims(i.secret, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if err := claims.ValidateWithLeeway(jwt.Expected{Issuer: issuer, Time: i.now()}, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &claims, nil
}

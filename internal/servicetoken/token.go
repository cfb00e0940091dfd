// Package servicetoken issues and validates short-lived RS256 JWTs used
// between internal services (e.g. the funding/reporting service reading
// loan progress without a user session).
package servicetoken

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultTokenTTL is the default lifetime for internal service tokens.
	DefaultTokenTTL = 60 * time.Second
	// DefaultLeeway is clock skew tolerance for token validation.
	DefaultLeeway = 15 * time.Second
)

// Signer issues short-lived internal service JWTs.
type Signer struct {
	issuer string
	ttl    time.Duration
	key    *rsa.PrivateKey
}

// SignerOptions configures internal service token signing.
type SignerOptions struct {
	PrivateKeyPath string
	Issuer         string
	TTL            time.Duration
}

// NewSigner creates an RS256 signer from a PEM private key file.
func NewSigner(opts SignerOptions) (*Signer, error) {
	opts.Issuer = strings.TrimSpace(opts.Issuer)
	if opts.Issuer == "" {
		return nil, errors.New("service token issuer is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTokenTTL
	}
	path := strings.TrimSpace(opts.PrivateKeyPath)
	if path == "" {
		return nil, errors.New("service token private key path is required")
	}
	key, err := loadRSAPrivateKey(path)
	if err != nil {
		return nil, fmt.Errorf("load internal jwt private key: %w", err)
	}
	return &Signer{issuer: opts.Issuer, ttl: opts.TTL, key: key}, nil
}

// Sign issues a token for the given audience.
func (s *Signer) Sign(audience string) (string, error) {
	audience = strings.TrimSpace(audience)
	if audience == "" {
		return "", errors.New("service token audience is required")
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
}

// Verifier validates internal service JWTs against audience and issuer
// allowlist.
type Verifier struct {
	audience       string
	allowedIssuers map[string]struct{}
	leeway         time.Duration
	key            *rsa.PublicKey
}

// VerifierOptions configures internal service token verification.
type VerifierOptions struct {
	PublicKeyPath  string
	Audience       string
	AllowedIssuers []string
	Leeway         time.Duration
}

// NewVerifier creates an RS256 verifier from a PEM public key file.
func NewVerifier(opts VerifierOptions) (*Verifier, error) {
	opts.Audience = strings.TrimSpace(opts.Audience)
	if opts.Audience == "" {
		return nil, errors.New("service token audience is required")
	}
	if len(opts.AllowedIssuers) == 0 {
		return nil, errors.New("service token allowed issuers are required")
	}
	path := strings.TrimSpace(opts.PublicKeyPath)
	if path == "" {
		return nil, errors.New("service token public key path is required")
	}
	key, err := loadRSAPublicKey(path)
	if err != nil {
		return nil, fmt.Errorf("load internal jwt public key: %w", err)
	}
	leeway := opts.Leeway
	if leeway <= 0 {
		leeway = DefaultLeeway
	}
	issuers := make(map[string]struct{}, len(opts.AllowedIssuers))
	for _, issuer := range opts.AllowedIssuers {
		issuer = strings.TrimSpace(issuer)
		if issuer != "" {
			issuers[issuer] = struct{}{}
		}
	}
	return &Verifier{
		audience:       opts.Audience,
		allowedIssuers: issuers,
		leeway:         leeway,
		key:            key,
	}, nil
}

// Verify parses and validates a token, returning its claims.
func (v *Verifier) Verify(token string) (jwt.RegisteredClaims, error) {
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.key, nil
	},
		jwt.WithAudience(v.audience),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return jwt.RegisteredClaims{}, err
	}
	if !parsed.Valid {
		return jwt.RegisteredClaims{}, errors.New("invalid service token")
	}
	if _, ok := v.allowedIssuers[claims.Issuer]; !ok {
		return jwt.RegisteredClaims{}, fmt.Errorf("issuer %q not allowed", claims.Issuer)
	}
	return claims, nil
}

// BearerToken extracts a bearer token from the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func loadRSAPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block in private key file")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

func loadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block in public key file")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return key, nil
}

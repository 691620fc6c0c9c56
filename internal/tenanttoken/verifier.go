// Package tenanttoken verifies identity-provider access tokens and extracts
// the tenant id. Tokens are RS256-signed; public keys come from the
// provider's JWKS endpoint and are cached with refresh-on-unknown-kid.
package tenanttoken

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"crypto/rsa"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultLeeway   = 30 * time.Second
	defaultCacheTTL = 5 * time.Minute
)

var errUnknownKey = errors.New("unknown token key")

// Config configures tenant token verification.
type Config struct {
	JWKSURL    string
	Issuer     string
	Audience   string
	Leeway     time.Duration
	HTTPClient *http.Client
}

// Verifier validates tenant access tokens.
type Verifier struct {
	jwksURL    string
	issuer     string
	audience   string
	leeway     time.Duration
	httpClient *http.Client

	mu         sync.RWMutex
	keys       map[string]*rsa.PublicKey
	keysExpire time.Time
}

// NewVerifier creates a verifier and performs an initial JWKS fetch.
func NewVerifier(cfg Config) (*Verifier, error) {
	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		return nil, errors.New("tenant token verifier requires a JWKS URL")
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	v := &Verifier{
		jwksURL:    jwksURL,
		issuer:     strings.TrimSpace(cfg.Issuer),
		audience:   strings.TrimSpace(cfg.Audience),
		leeway:     leeway,
		httpClient: client,
	}
	if err := v.refresh(); err != nil {
		return nil, err
	}
	return v, nil
}

// VerifyTenant validates the token and returns the subject tenant id.
func (v *Verifier) VerifyTenant(token string) (string, error) {
	claims, err := v.parse(token)
	if errors.Is(err, errUnknownKey) || (err != nil && v.expired()) {
		if rerr := v.refresh(); rerr != nil {
			return "", rerr
		}
		claims, err = v.parse(token)
	}
	if err != nil {
		return "", err
	}
	tenant := strings.TrimSpace(claims.Subject)
	if tenant == "" {
		return "", errors.New("token has no subject")
	}
	return tenant, nil
}

func (v *Verifier) parse(token string) (jwt.RegisteredClaims, error) {
	claims := jwt.RegisteredClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		v.mu.RLock()
		key, ok := v.keys[strings.TrimSpace(kid)]
		v.mu.RUnlock()
		if !ok {
			return nil, errUnknownKey
		}
		return key, nil
	}, opts...)
	if err != nil {
		return claims, err
	}
	if !parsed.Valid {
		return claims, errors.New("invalid token")
	}
	return claims, nil
}

func (v *Verifier) expired() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return time.Now().After(v.keysExpire)
}

func (v *Verifier) refresh() error {
	resp, err := v.httpClient.Get(v.jwksURL)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}

	var payload struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(payload.Keys))
	for _, k := range payload.Keys {
		if !strings.EqualFold(strings.TrimSpace(k.Kty), "RSA") {
			continue
		}
		kid := strings.TrimSpace(k.Kid)
		if kid == "" {
			continue
		}
		pub, err := rsaKeyFromJWK(k.N, k.E)
		if err != nil {
			continue
		}
		keys[kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("jwks contains no usable rsa keys")
	}

	v.mu.Lock()
	v.keys = keys
	v.keysExpire = time.Now().Add(defaultCacheTTL)
	v.mu.Unlock()
	return nil
}

func rsaKeyFromJWK(nRaw, eRaw string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(nRaw))
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(eRaw))
	if err != nil {
		return nil, err
	}
	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() <= 0 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(e.Int64()),
	}, nil
}

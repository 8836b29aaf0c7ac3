// Package auth resolves the calling principal from an HTTP request.
package auth

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/xscopehub/consultd/internal/config"
	"github.com/xscopehub/consultd/internal/model"
)

const (
	ModeJWKS   = "jwks"
	ModeHMAC   = "hmac"
	ModeHeader = "header"
)

// Authenticator verifies bearer tokens against a JWK set or a shared HMAC
// secret. Header mode trusts a plain user id header and is meant for
// development behind a trusted proxy.
type Authenticator struct {
	cfg config.AuthConfig

	mu        sync.RWMutex
	set       jwk.Set
	fetchedAt time.Time
	client    *http.Client
}

// New creates an authenticator. JWKS mode fetches the key set once up front
// so a bad URL fails at startup.
func New(ctx context.Context, cfg config.AuthConfig) (*Authenticator, error) {
	a := &Authenticator{cfg: cfg}
	switch cfg.Mode {
	case ModeHeader:
		if a.cfg.Header == "" {
			a.cfg.Header = "X-User-ID"
		}
	case ModeHMAC:
		if cfg.HMACSecret == "" {
			return nil, fmt.Errorf("hmac_secret required for hmac auth")
		}
	case ModeJWKS:
		if cfg.JWKSURL == "" {
			return nil, fmt.Errorf("jwks_url required for jwks auth")
		}
		a.client = &http.Client{Timeout: 10 * time.Second}
		if cfg.InsecureTLS {
			a.client.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}} // #nosec G402
		}
		if err := a.refresh(ctx); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
	return a, nil
}

// Principal returns the caller. A request without credentials yields the
// anonymous principal and no error; presented but invalid credentials yield
// an error wrapping model.ErrUnauthenticated.
func (a *Authenticator) Principal(r *http.Request) (model.Principal, error) {
	if a.cfg.Mode == ModeHeader {
		raw := strings.TrimSpace(r.Header.Get(a.cfg.Header))
		if raw == "" {
			return model.Principal{}, nil
		}
		return parseSubject(raw)
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return model.Principal{}, nil
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return model.Principal{}, fmt.Errorf("%w: authorization header must be bearer token", model.ErrUnauthenticated)
	}
	token := strings.TrimSpace(header[7:])
	if token == "" {
		return model.Principal{}, fmt.Errorf("%w: empty bearer token", model.ErrUnauthenticated)
	}

	var (
		subject string
		err     error
	)
	if a.cfg.Mode == ModeHMAC {
		subject, err = a.verifyHMAC(token)
	} else {
		subject, err = a.verifyJWKS(r.Context(), token)
	}
	if err != nil {
		return model.Principal{}, fmt.Errorf("%w: %v", model.ErrUnauthenticated, err)
	}
	return parseSubject(subject)
}

func parseSubject(raw string) (model.Principal, error) {
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return model.Principal{}, fmt.Errorf("%w: subject is not a user id", model.ErrUnauthenticated)
	}
	return model.Principal{ID: id}, nil
}

func (a *Authenticator) verifyHMAC(token string) (string, error) {
	opts := []gojwt.ParserOption{
		gojwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		gojwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, gojwt.WithIssuer(a.cfg.Issuer))
	}
	for _, aud := range a.cfg.Audience {
		if aud != "" {
			opts = append(opts, gojwt.WithAudience(aud))
		}
	}

	claims := gojwt.MapClaims{}
	_, err := gojwt.ParseWithClaims(token, claims, func(*gojwt.Token) (any, error) {
		return []byte(a.cfg.HMACSecret), nil
	}, opts...)
	if err != nil {
		return "", err
	}
	return mapClaim(claims, a.userClaim()), nil
}

func (a *Authenticator) verifyJWKS(ctx context.Context, token string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	set, err := a.getKeySet(ctx)
	if err != nil {
		return "", err
	}

	options := []jwt.ParseOption{jwt.WithKeySet(set), jwt.WithValidate(true)}
	for _, aud := range a.cfg.Audience {
		if aud != "" {
			options = append(options, jwt.WithAudience(aud))
		}
	}
	if a.cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(a.cfg.Issuer))
	}

	parsed, err := jwt.ParseString(token, options...)
	if err != nil {
		return "", err
	}
	return claimAsString(parsed, a.userClaim()), nil
}

func (a *Authenticator) userClaim() string {
	if a.cfg.UserClaim == "" {
		return "sub"
	}
	return a.cfg.UserClaim
}

func (a *Authenticator) getKeySet(ctx context.Context) (jwk.Set, error) {
	ttl := a.cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	a.mu.RLock()
	set := a.set
	fetched := a.fetchedAt
	a.mu.RUnlock()

	if set != nil && time.Since(fetched) < ttl {
		return set, nil
	}
	if err := a.refresh(ctx); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.set == nil {
		return nil, errors.New("jwks not loaded")
	}
	return a.set, nil
}

func (a *Authenticator) refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	set, err := jwk.Fetch(ctx, a.cfg.JWKSURL, jwk.WithHTTPClient(a.client))
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.set = set
	a.fetchedAt = time.Now()
	return nil
}

func claimAsString(token jwt.Token, claim string) string {
	value, ok := token.Get(claim)
	if !ok {
		return ""
	}
	return stringify(value)
}

func mapClaim(claims gojwt.MapClaims, claim string) string {
	value, ok := claims[claim]
	if !ok {
		return ""
	}
	return stringify(value)
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case []string:
		if len(v) > 0 {
			return v[0]
		}
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

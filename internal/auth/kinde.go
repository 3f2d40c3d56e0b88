package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

type KindeClaims struct {
	jwt.RegisteredClaims
	GivenName   string   `json:"given_name"`
	FamilyName  string   `json:"family_name"`
	Email       string   `json:"email"`
	OrgCode     string   `json:"org_code"`
	Permissions []string `json:"permissions"`
}

type JWKS struct {
	Keys []JWK `json:"keys"`
}

type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Alg string `json:"alg"`
}

// KindeValidator validates RS256 tokens issued by a Kinde tenant against the
// tenant's published JWKS.
type KindeValidator struct {
	issuer  string
	jwksURL string
	client  *http.Client
	log     zerolog.Logger

	mu   sync.RWMutex
	jwks *JWKS
	// kid -> converted key
	cache map[string]*rsa.PublicKey
}

// NewKindeValidator fetches the issuer's JWKS once before returning.
func NewKindeValidator(ctx context.Context, issuerURL string, log zerolog.Logger) (*KindeValidator, error) {
	issuerURL = strings.TrimSuffix(issuerURL, "/")
	v := &KindeValidator{
		issuer:  issuerURL,
		jwksURL: issuerURL + "/.well-known/jwks.json",
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("component", "auth").Logger(),
		cache:   make(map[string]*rsa.PublicKey),
	}
	if err := v.Refresh(ctx); err != nil {
		return nil, err
	}
	return v, nil
}

// RunRefresh refetches the JWKS every interval until ctx is done.
func (v *KindeValidator) RunRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := v.Refresh(ctx); err != nil {
				v.log.Error().Err(err).Msg("error refreshing JWKS")
			}
		}
	}
}

// Refresh fetches the JWKS and drops converted keys.
func (v *KindeValidator) Refresh(ctx context.Context) error {
	v.log.Debug().Str("url", v.jwksURL).Msg("fetching JWKS")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("failed to decode JWKS: %w", err)
	}

	v.mu.Lock()
	v.jwks = &jwks
	v.cache = make(map[string]*rsa.PublicKey)
	v.mu.Unlock()

	v.log.Info().Int("keys", len(jwks.Keys)).Msg("JWKS loaded")
	return nil
}

func (v *KindeValidator) Validate(ctx context.Context, tokenString string) (Identity, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	if tokenString == "" {
		return Identity{}, ErrNoToken
	}

	claims := &KindeClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid not found in token header")
		}
		return v.publicKey(kid)
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if !token.Valid || claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: invalid token claims", ErrUnauthorized)
	}

	name := strings.TrimSpace(claims.GivenName + " " + claims.FamilyName)
	return Identity{UserID: claims.Subject, Name: name}, nil
}

// publicKey retrieves and caches the public key for a given kid.
func (v *KindeValidator) publicKey(kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, ok := v.cache[kid]
	jwks := v.jwks
	v.mu.RUnlock()
	if ok {
		return key, nil
	}

	if jwks == nil {
		return nil, errors.New("JWKS not initialized")
	}

	for _, jwk := range jwks.Keys {
		if jwk.Kid != kid {
			continue
		}
		key, err := jwkToPublicKey(jwk)
		if err != nil {
			return nil, err
		}

		v.mu.Lock()
		v.cache[kid] = key
		v.mu.Unlock()
		return key, nil
	}

	return nil, fmt.Errorf("key with kid %s not found in JWKS", kid)
}

// jwkToPublicKey converts JWK to RSA public key
func jwkToPublicKey(jwk JWK) (*rsa.PublicKey, error) {
	if jwk.Kty != "" && jwk.Kty != "RSA" {
		return nil, fmt.Errorf("unsupported key type %q", jwk.Kty)
	}

	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	var e int
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}

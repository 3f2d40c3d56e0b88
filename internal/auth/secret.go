package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const secretIssuer = "go-forum"

type secretClaims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// SecretValidator accepts HS256 tokens signed with a shared secret. It serves
// development setups and tests that have no identity provider.
type SecretValidator struct {
	secret []byte
}

func NewSecretValidator(secret string) (*SecretValidator, error) {
	if secret == "" {
		return nil, errors.New("auth secret is empty")
	}
	return &SecretValidator{secret: []byte(secret)}, nil
}

func (v *SecretValidator) Validate(ctx context.Context, tokenString string) (Identity, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	if tokenString == "" {
		return Identity{}, ErrNoToken
	}

	claims := &secretClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(secretIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if !token.Valid || claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: invalid token claims", ErrUnauthorized)
	}
	return Identity{UserID: claims.Subject, Name: claims.Name}, nil
}

// IssueToken signs a token for userID that SecretValidator accepts until ttl
// elapses.
func IssueToken(secret, userID, name string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("auth secret is empty")
	}
	if userID == "" {
		return "", errors.New("user id is empty")
	}

	now := time.Now()
	claims := secretClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    secretIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name: name,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

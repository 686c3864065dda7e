package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenValidity is the absolute lifetime of an issued session token.
const TokenValidity = time.Hour

var (
	// ErrTokenExpired reports a structurally valid token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid reports any other token failure: malformed, wrong
	// secret, tampered payload.
	ErrTokenInvalid = errors.New("token invalid")
)

// Claims are the session claims issued after SIWE verification.
type Claims struct {
	jwt.RegisteredClaims
	Address string `json:"address"`
	ChainID int    `json:"chainId"`
	IsAdmin bool   `json:"isAdmin"`
}

// TokenService signs and validates session tokens. Sessions are stateless:
// there is no server-side revocation list.
type TokenService struct {
	jwtSecret []byte
	now       func() time.Time
}

// NewTokenService creates the service. An empty secret is refused so that
// validation can never silently pass without one.
func NewTokenService(secret string) (*TokenService, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret must not be empty")
	}
	return &TokenService{
		jwtSecret: []byte(secret),
		now:       time.Now,
	}, nil
}

// IssueToken signs a compact credential carrying the identity's claims.
func (s *TokenService) IssueToken(ident Identity) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenValidity)),
		},
		Address: ident.Address,
		ChainID: ident.ChainID,
		IsAdmin: ident.IsAdmin,
	})
	return token.SignedString(s.jwtSecret)
}

// ValidateToken parses and verifies a token string, returning the embedded
// identity. Expiry is reported distinctly from every other failure.
func (s *TokenService) ValidateToken(tokenString string) (*Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	return &Identity{
		Address: claims.Address,
		ChainID: claims.ChainID,
		IsAdmin: claims.IsAdmin,
	}, nil
}

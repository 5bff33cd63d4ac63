package security

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/darkhound-project/darkhound/pkg/models"
)

// Token type claim values.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims is the verified identity carried by a bearer token.
type Claims struct {
	Subject string
	Role    models.UserRole
	Type    string
}

// TokenIssuer signs and verifies HMAC bearer tokens.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenIssuer creates a TokenIssuer keyed by the process secret.
func NewTokenIssuer(secretKey string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:     []byte(secretKey),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// IssuePair returns a new (access, refresh) token pair for the user.
func (t *TokenIssuer) IssuePair(username string, role models.UserRole) (access, refresh string, err error) {
	access, err = t.sign(username, role, TokenTypeAccess, t.accessTTL)
	if err != nil {
		return "", "", err
	}
	refresh, err = t.sign(username, role, TokenTypeRefresh, t.refreshTTL)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (t *TokenIssuer) sign(subject string, role models.UserRole, typ string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"role": string(role),
		"type": typ,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	})
	return token.SignedString(t.secret)
}

// VerifyAccessToken validates an access token and returns its claims.
func (t *TokenIssuer) VerifyAccessToken(raw string) (*Claims, error) {
	return t.verify(raw, TokenTypeAccess)
}

// VerifyRefreshToken validates a refresh token and returns its claims.
func (t *TokenIssuer) VerifyRefreshToken(raw string) (*Claims, error) {
	return t.verify(raw, TokenTypeRefresh)
}

func (t *TokenIssuer) verify(raw, wantType string) (*Claims, error) {
	token, err := jwt.Parse(raw, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	typ, _ := claims["type"].(string)
	if typ != wantType {
		return nil, fmt.Errorf("wrong token type: got %q, want %q", typ, wantType)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("token missing subject")
	}
	role, _ := claims["role"].(string)

	return &Claims{Subject: sub, Role: models.UserRole(role), Type: typ}, nil
}

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"taskflow/internal/platform/config"
)

type TokenPurpose string

const (
	PurposeAccess  TokenPurpose = "access"
	PurposeRefresh TokenPurpose = "refresh"
)

var ErrWrongPurpose = errors.New("token purpose mismatch")

// Claims carry only the subject, its token version and a site hint. Role
// and scope are never trusted from a token; they are reloaded per request.
type Claims struct {
	Version int          `json:"ver"`
	Purpose TokenPurpose `json:"typ"`
	SiteID  string       `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// Subject identifies a user for issuance.
type Subject struct {
	UserID       string
	TokenVersion int
	SiteID       string
}

// SessionAuthority issues and verifies signed access and refresh tokens.
type SessionAuthority struct {
	config config.JWTConfig
	now    func() time.Time
}

func NewSessionAuthority(cfg config.JWTConfig) *SessionAuthority {
	return &SessionAuthority{config: cfg, now: time.Now}
}

// WithClock overrides the issuance clock.
func (s *SessionAuthority) WithClock(now func() time.Time) *SessionAuthority {
	return &SessionAuthority{config: s.config, now: now}
}

func (s *SessionAuthority) IssueAccess(sub Subject) (string, error) {
	return s.issue(sub, PurposeAccess, s.config.AccessTokenTTL, s.config.AccessSecret)
}

func (s *SessionAuthority) IssueRefresh(sub Subject) (string, error) {
	return s.issue(sub, PurposeRefresh, s.config.RefreshTokenTTL, s.config.RefreshSecret)
}

func (s *SessionAuthority) issue(sub Subject, purpose TokenPurpose, ttl time.Duration, secret string) (string, error) {
	now := s.now()
	claims := Claims{
		Version: sub.TokenVersion,
		Purpose: purpose,
		SiteID:  sub.SiteID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.UserID,
			Issuer:    s.config.Issuer,
			Audience:  jwt.ClaimStrings{s.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func (s *SessionAuthority) VerifyAccess(tokenString string) (*Claims, error) {
	return s.verify(tokenString, PurposeAccess, s.config.AccessSecret)
}

func (s *SessionAuthority) VerifyRefresh(tokenString string) (*Claims, error) {
	return s.verify(tokenString, PurposeRefresh, s.config.RefreshSecret)
}

func (s *SessionAuthority) verify(tokenString string, purpose TokenPurpose, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.config.Issuer),
		jwt.WithAudience(s.config.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Purpose != purpose {
		return nil, ErrWrongPurpose
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}

	return claims, nil
}

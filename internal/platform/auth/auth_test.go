package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"taskflow/internal/platform/config"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		AccessSecret:    "access-secret",
		RefreshSecret:   "refresh-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
		Issuer:          "taskflow-api",
		Audience:        "taskflow-web",
	}
}

func TestSessionAuthority_RoundTrip(t *testing.T) {
	sa := NewSessionAuthority(testJWTConfig())
	sub := Subject{UserID: "usr_1", TokenVersion: 3, SiteID: "site_1"}

	access, err := sa.IssueAccess(sub)
	require.NoError(t, err)

	claims, err := sa.VerifyAccess(access)
	require.NoError(t, err)
	assert.Equal(t, "usr_1", claims.Subject)
	assert.Equal(t, 3, claims.Version)
	assert.Equal(t, PurposeAccess, claims.Purpose)
	assert.Equal(t, "site_1", claims.SiteID)

	refresh, err := sa.IssueRefresh(sub)
	require.NoError(t, err)

	claims, err = sa.VerifyRefresh(refresh)
	require.NoError(t, err)
	assert.Equal(t, PurposeRefresh, claims.Purpose)
}

func TestSessionAuthority_PurposesDoNotCross(t *testing.T) {
	cfg := testJWTConfig()
	sa := NewSessionAuthority(cfg)
	sub := Subject{UserID: "usr_1"}

	access, err := sa.IssueAccess(sub)
	require.NoError(t, err)
	_, err = sa.VerifyRefresh(access)
	assert.Error(t, err, "access token must not verify as refresh")

	// Same secret for both purposes still rejects on the typ claim.
	cfg.RefreshSecret = cfg.AccessSecret
	shared := NewSessionAuthority(cfg)
	refresh, err := shared.IssueRefresh(sub)
	require.NoError(t, err)
	_, err = shared.VerifyAccess(refresh)
	assert.ErrorIs(t, err, ErrWrongPurpose)
}

func TestSessionAuthority_Expiry(t *testing.T) {
	issuedAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sa := NewSessionAuthority(testJWTConfig()).WithClock(func() time.Time { return issuedAt })

	token, err := sa.IssueAccess(Subject{UserID: "usr_1"})
	require.NoError(t, err)

	later := sa.WithClock(func() time.Time { return issuedAt.Add(16 * time.Minute) })
	_, err = later.VerifyAccess(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestSessionAuthority_IssuerAndAudience(t *testing.T) {
	cfg := testJWTConfig()
	token, err := NewSessionAuthority(cfg).IssueAccess(Subject{UserID: "usr_1"})
	require.NoError(t, err)

	other := cfg
	other.Audience = "another-app"
	_, err = NewSessionAuthority(other).VerifyAccess(token)
	assert.Error(t, err)

	other = cfg
	other.Issuer = "someone-else"
	_, err = NewSessionAuthority(other).VerifyAccess(token)
	assert.Error(t, err)
}

func TestSessionAuthority_RejectsOtherAlgorithms(t *testing.T) {
	cfg := testJWTConfig()
	claims := Claims{
		Purpose: PurposeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "usr_1",
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{cfg.Audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewSessionAuthority(cfg).VerifyAccess(unsigned)
	assert.Error(t, err)
}

func TestPasswords(t *testing.T) {
	p := NewPasswords(bcrypt.MinCost)

	hash, err := p.Hash("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)

	assert.True(t, p.Verify(hash, "correct horse"))
	assert.False(t, p.Verify(hash, "wrong"))
	assert.False(t, p.Verify("", "correct horse"))

	_, err = p.Hash("")
	assert.Error(t, err)
}

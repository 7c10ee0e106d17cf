package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAccessSecret  = "access-secret-32-chars-long!!!!!"
	testRefreshSecret = "refresh-secret-32-chars-long!!!!"
)

func newTestJWTManager() *JWTManager {
	return NewJWTManager(testAccessSecret, testRefreshSecret, 15*time.Minute, 7*24*time.Hour)
}

func accessClaims(iss string) AccessClaims {
	now := time.Now()
	return AccessClaims{
		UserID: "user-1",
		Email:  "a@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    iss,
		},
	}
}

func sign(t *testing.T, method jwt.SigningMethod, claims jwt.Claims, key any) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestJWTManager_TokenPairRoundTrip(t *testing.T) {
	mgr := newTestJWTManager()

	pair, tokenID, err := mgr.GenerateTokenPair("user-123", "test@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, tokenID)
	assert.Equal(t, int64(900), pair.ExpiresIn)

	access, err := mgr.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-123", access.UserID)
	assert.Equal(t, "test@example.com", access.Email)
	assert.Equal(t, issuer, access.Issuer)

	refresh, err := mgr.ValidateRefreshToken(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "user-123", refresh.UserID)
	assert.Equal(t, tokenID, refresh.TokenID, "returned id is the one embedded in the refresh token")
}

func TestJWTManager_HandBuiltTokenAccepted(t *testing.T) {
	mgr := newTestJWTManager()

	token := sign(t, jwt.SigningMethodHS256, accessClaims(issuer), []byte(testAccessSecret))
	claims, err := mgr.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
}

func TestJWTManager_RejectsForeignTokens(t *testing.T) {
	mgr := newTestJWTManager()
	secret := []byte(testAccessSecret)

	expired := accessClaims(issuer)
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	cases := []struct {
		name  string
		token string
		want  error
	}{
		{"other issuer", sign(t, jwt.SigningMethodHS256, accessClaims("other-service"), secret), jwt.ErrTokenInvalidIssuer},
		{"missing issuer", sign(t, jwt.SigningMethodHS256, accessClaims(""), secret), jwt.ErrTokenRequiredClaimMissing},
		{"HS384 with the right secret", sign(t, jwt.SigningMethodHS384, accessClaims(issuer), secret), jwt.ErrTokenSignatureInvalid},
		{"HS512 with the right secret", sign(t, jwt.SigningMethodHS512, accessClaims(issuer), secret), jwt.ErrTokenSignatureInvalid},
		{"unsigned", sign(t, jwt.SigningMethodNone, accessClaims(issuer), jwt.UnsafeAllowNoneSignatureType), jwt.ErrTokenSignatureInvalid},
		{"signed with the refresh secret", sign(t, jwt.SigningMethodHS256, accessClaims(issuer), []byte(testRefreshSecret)), jwt.ErrTokenSignatureInvalid},
		{"expired", sign(t, jwt.SigningMethodHS256, expired, secret), jwt.ErrTokenExpired},
		{"garbage", "invalid-token", jwt.ErrTokenMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := mgr.ValidateAccessToken(tc.token)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestJWTManager_TokenKindsNotInterchangeable(t *testing.T) {
	mgr := newTestJWTManager()
	pair, _, err := mgr.GenerateTokenPair("user-789", "x@example.com")
	require.NoError(t, err)

	_, err = mgr.ValidateRefreshToken(pair.AccessToken)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	_, err = mgr.ValidateAccessToken(pair.RefreshToken)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestJWTManager_OtherDeploymentSecret(t *testing.T) {
	mgr := newTestJWTManager()
	other := NewJWTManager("another-access-secret-32-chars!!", "another-refresh-secret-32-chars!", 15*time.Minute, time.Hour)

	pair, _, err := other.GenerateTokenPair("user-1", "a@b.com")
	require.NoError(t, err)

	_, err = mgr.ValidateAccessToken(pair.AccessToken)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
	_, err = mgr.ValidateRefreshToken(pair.RefreshToken)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestJWTManager_ExpiredPair(t *testing.T) {
	mgr := NewJWTManager(testAccessSecret, testRefreshSecret, -time.Second, -time.Second)
	pair, _, err := mgr.GenerateTokenPair("user-exp", "exp@example.com")
	require.NoError(t, err)

	_, err = mgr.ValidateAccessToken(pair.AccessToken)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	_, err = mgr.ValidateRefreshToken(pair.RefreshToken)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

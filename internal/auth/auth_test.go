package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestIssueAndParse(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)

	token, err := issuer.Issue("user-1", "admin")
	require.NoError(t, err)

	p, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "user-1", Role: "admin"}, p)
}

func TestParseRejects(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)

	t.Run("wrong secret", func(t *testing.T) {
		token, err := NewIssuer("other", time.Hour).Issue("user-1", "buyer")
		require.NoError(t, err)
		_, err = issuer.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		old := NewIssuer("secret", time.Minute)
		old.now = func() time.Time { return time.Now().Add(-time.Hour) }
		token, err := old.Issue("user-1", "buyer")
		require.NoError(t, err)
		_, err = issuer.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("none algorithm", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = issuer.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := issuer.Parse("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestPasswords(t *testing.T) {
	hash, err := HashPassword("s3cret-pass", bcrypt.MinCost)
	require.NoError(t, err)

	assert.NoError(t, CheckPassword(hash, "s3cret-pass"))
	assert.ErrorIs(t, CheckPassword(hash, "wrong"), ErrInvalidCredentials)
}

func TestPrincipalContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{UserID: "u", Role: "buyer"})
	p, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u", p.UserID)
}

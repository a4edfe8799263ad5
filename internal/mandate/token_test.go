package mandate

import (
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildToken signs a mandate-shaped JWT with a throwaway key. DecodeToken
// never checks the signature, so any key works.
func buildToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewBuilder().
		Subject("research-assistant-0xBuyer").
		Expiration(exp).
		Claim("scope", "resource.read,payment.execute").
		Claim("budget_remaining", "42.50").
		Build()
	require.NoError(t, err)

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte("gateway-secret")))
	require.NoError(t, err)
	return string(signed)
}

func TestDecodeToken(t *testing.T) {
	exp := time.Now().Add(24 * time.Hour).Truncate(time.Second)
	claims, err := DecodeToken(buildToken(t, exp))
	require.NoError(t, err)

	assert.Equal(t, "research-assistant-0xBuyer", claims.Subject)
	assert.True(t, claims.ExpiresAt.Equal(exp))
	assert.Equal(t, "resource.read,payment.execute", claims.Scope)
	assert.Equal(t, "42.50", claims.BudgetRemaining)
}

func TestDecodeTokenIgnoresExpiryAndSignature(t *testing.T) {
	// Expired tokens still decode: expiry policy belongs to the store and the
	// gateway, not the decoder.
	claims, err := DecodeToken(buildToken(t, time.Now().Add(-time.Hour)))
	require.NoError(t, err)
	assert.NotEmpty(t, claims.Subject)
}

func TestDecodeTokenMalformed(t *testing.T) {
	_, err := DecodeToken("not-a-jwt")
	require.Error(t, err)

	_, err = DecodeToken("")
	require.Error(t, err)
}

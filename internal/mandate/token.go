package mandate

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Claims is the locally useful subset of a mandate token's JWT payload.
type Claims struct {
	Subject         string
	ExpiresAt       time.Time
	Scope           string
	BudgetRemaining string
}

// DecodeToken extracts the payload of a mandate token without verifying its
// signature: the signing key belongs to the gateway and the live budget is
// re-checked through the verify endpoint anyway. Used as a fallback when that
// endpoint is unreachable.
func DecodeToken(token string) (*Claims, error) {
	tok, err := jwt.Parse([]byte(token), jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return nil, fmt.Errorf("malformed mandate token: %w", err)
	}

	claims := &Claims{
		Subject:   tok.Subject(),
		ExpiresAt: tok.Expiration(),
	}

	private := tok.PrivateClaims()
	if v, ok := private["scope"]; ok {
		claims.Scope = fmt.Sprint(v)
	}
	if v, ok := private["budget_remaining"]; ok {
		claims.BudgetRemaining = fmt.Sprint(v)
	}

	return claims, nil
}

package aggregator

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AppTokenExpiry reads the exp claim of an app token without verifying it. The aggregator is the
// only party that can verify the token; the client just wants to know when it lapses. Opaque
// (non-JWT) tokens and tokens without exp report false.
func AppTokenExpiry(appToken string) (time.Time, bool) {
	if appToken == "" {
		return time.Time{}, false
	}
	token, _, err := jwt.NewParser().ParseUnverified(appToken, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

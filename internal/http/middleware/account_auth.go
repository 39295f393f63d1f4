package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/practice-platform/internal/tenancy"
)

// AccountJWT authenticates HMAC-signed bearer tokens and puts the token
// subject on the context as the account id.
func AccountJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "account auth disabled", http.StatusUnauthorized)
				return
			}
			auth := r.Header.Get("Authorization")
			tokenString := strings.TrimPrefix(auth, "Bearer ")
			if tokenString == auth && r.URL.Query().Get("access_token") != "" {
				// Browsers cannot set headers on websocket upgrades.
				tokenString = r.URL.Query().Get("access_token")
			}
			if tokenString == "" || tokenString == auth {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}

			claims := jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if strings.TrimSpace(claims.Subject) == "" {
				http.Error(w, "token has no account", http.StatusUnauthorized)
				return
			}
			acct := tenancy.Account{ID: claims.Subject, TokenID: claims.ID}
			if claims.ExpiresAt != nil {
				acct.ExpiresAt = claims.ExpiresAt.Time
			}
			next.ServeHTTP(w, r.WithContext(tenancy.WithAccount(r.Context(), acct)))
		})
	}
}

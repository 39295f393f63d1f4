// Package tenancy scopes requests to a single practice account.
package tenancy

import (
	"context"
	"net/http"
	"strings"
	"time"
)

type ctxKey struct{}

// Account is the practice account a request acts for, as established by
// the bearer token.
type Account struct {
	ID        string
	TokenID   string
	ExpiresAt time.Time
}

// WithAccount stores the authenticated account in context.
func WithAccount(ctx context.Context, acct Account) context.Context {
	acct.ID = strings.TrimSpace(acct.ID)
	return context.WithValue(ctx, ctxKey{}, acct)
}

// WithAccountID stores a bare account id, for callers without token details.
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return WithAccount(ctx, Account{ID: accountID})
}

// AccountFromContext returns the account if one with a non-empty id is set.
func AccountFromContext(ctx context.Context) (Account, bool) {
	acct, ok := ctx.Value(ctxKey{}).(Account)
	return acct, ok && acct.ID != ""
}

// AccountIDFromContext extracts the account id if present.
func AccountIDFromContext(ctx context.Context) (string, bool) {
	acct, ok := AccountFromContext(ctx)
	return acct.ID, ok
}

// RequireAccountID returns the request's account id, or writes 401 and
// returns false.
func RequireAccountID(w http.ResponseWriter, r *http.Request) (string, bool) {
	accountID, ok := AccountIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing account context", http.StatusUnauthorized)
		return "", false
	}
	return accountID, true
}

// Package obscontext carries request correlation values through context.
package obscontext

import (
	"context"
	"strings"
)

type requestIDKey struct{}
type membershipKey struct{}

type membership struct {
	orgID  string
	userID string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(requestIDKey{}).(string); ok {
		return value
	}
	return ""
}

// WithMembership tags ctx with the organization and user a membership
// operation is working on.
func WithMembership(ctx context.Context, orgID, userID string) context.Context {
	return context.WithValue(ctx, membershipKey{}, membership{
		orgID:  strings.TrimSpace(orgID),
		userID: strings.TrimSpace(userID),
	})
}

func MembershipFromContext(ctx context.Context) (orgID, userID string) {
	if ctx == nil {
		return "", ""
	}
	if value, ok := ctx.Value(membershipKey{}).(membership); ok {
		return value.orgID, value.userID
	}
	return "", ""
}

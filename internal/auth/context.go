package auth

import "context"

type contextKey string

const (
	contextKeySubject     contextKey = "auth.subject"
	contextKeyAccessToken contextKey = "auth.access_token"
)

// WithIdentity stores the signed-in user and their Easee access token in context.
func WithIdentity(ctx context.Context, username, accessToken string) context.Context {
	ctx = context.WithValue(ctx, contextKeySubject, username)
	ctx = context.WithValue(ctx, contextKeyAccessToken, accessToken)
	return ctx
}

// UsernameFromContext extracts the signed-in username from context.
func UsernameFromContext(ctx context.Context) string {
	return stringValue(ctx, contextKeySubject)
}

// AccessTokenFromContext extracts the Easee access token from context.
func AccessTokenFromContext(ctx context.Context) string {
	return stringValue(ctx, contextKeyAccessToken)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(key).(string); ok {
		return value
	}
	return ""
}

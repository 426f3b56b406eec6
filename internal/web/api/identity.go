package api

import "context"

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// ContextKeyUserID is the context key for the authenticated user id.
	ContextKeyUserID contextKey = "user_id"

	// ContextKeyEmail is the context key for the authenticated email.
	ContextKeyEmail contextKey = "email"

	// ContextKeySession is the context key for the auth session id.
	ContextKeySession contextKey = "session_id"
)

// WithIdentity attaches the authenticated identity to the context. The auth
// middleware calls this; handlers read it back with the getters below.
func WithIdentity(ctx context.Context, userID, email string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyUserID, userID)
	return context.WithValue(ctx, ContextKeyEmail, email)
}

// WithSession attaches the auth session id to the context.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ContextKeySession, sessionID)
}

// GetUserIDFromContext extracts the user id from the request context.
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(ContextKeyUserID).(string)
	return userID, ok
}

// GetEmailFromContext extracts the email from the request context.
func GetEmailFromContext(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(ContextKeyEmail).(string)
	return email, ok
}

// GetSessionFromContext extracts the auth session id from the request context.
func GetSessionFromContext(ctx context.Context) (string, bool) {
	sessionID, ok := ctx.Value(ContextKeySession).(string)
	return sessionID, ok
}

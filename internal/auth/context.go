package auth

import (
	"context"

	"github.com/straye-as/salesflow-api/internal/domain"
)

// Authentication methods recorded on the user context
const (
	AuthTypeJWT    = "jwt"
	AuthTypeAPIKey = "api_key"
)

// UserContext holds the authenticated caller
type UserContext struct {
	UserID      string
	DisplayName string
	Email       string
	Roles       []string
	AuthType    string
}

type contextKey string

const userContextKey contextKey = "userContext"

// WithUserContext adds user context to the context
func WithUserContext(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// FromContext extracts user context from the context
func FromContext(ctx context.Context) (*UserContext, bool) {
	user, ok := ctx.Value(userContextKey).(*UserContext)
	return user, ok
}

// Actor returns the identity stamped on audit records
func (u *UserContext) Actor() domain.ActorContext {
	name := u.DisplayName
	if name == "" {
		name = u.Email
	}
	if name == "" {
		name = u.UserID
	}
	return domain.ActorContext{ID: u.UserID, Name: name}
}

// ActorFromContext resolves the actor of the request once
func ActorFromContext(ctx context.Context) (domain.ActorContext, bool) {
	user, ok := FromContext(ctx)
	if !ok || user == nil {
		return domain.ActorContext{}, false
	}
	return user.Actor(), true
}

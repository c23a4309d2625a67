package auth

import "context"

type userKey struct{}

// User is the API client a bearer token was issued to.
type User struct {
	Sub        string
	ClientName string
}

// WithUser returns ctx carrying user.
func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the client that made the request. Scheduled fires
// have none.
func UserFromContext(ctx context.Context) (User, bool) {
	if ctx == nil {
		return User{}, false
	}
	user, ok := ctx.Value(userKey{}).(User)
	return user, ok
}

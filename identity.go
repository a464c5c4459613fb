package go_hub_i_guess

import (
	"context"
	crand "crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
)

// ClientIdentityPolicy selects how a connection's client identifier is
// chosen.
type ClientIdentityPolicy uint

const (
	// Every connection is a new client, with a randomly generated
	// identifier, regardless of authentication.
	AlwaysAnonymous ClientIdentityPolicy = iota
	// Authenticated connections use the user's identifier, so every
	// connection of that user shares the same client. Other connections
	// get a randomly generated identifier.
	UserWhenAuthenticated
)

func (p ClientIdentityPolicy) String() string {
	switch p {
	case AlwaysAnonymous:
		return "AlwaysAnonymous"
	case UserWhenAuthenticated:
		return "UserWhenAuthenticated"
	default:
		return "Unknown"
	}
}

// MarshalText encode the policy by name, so it's readable on configuration
// files.
func (p ClientIdentityPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decode the policy from its name.
func (p *ClientIdentityPolicy) UnmarshalText(text []byte) error {
	switch string(text) {
	case "AlwaysAnonymous":
		*p = AlwaysAnonymous
	case "UserWhenAuthenticated":
		*p = UserWhenAuthenticated
	default:
		return fmt.Errorf("%w: unknown client identity policy '%s'",
			InvalidConf, string(text))
	}
	return nil
}

var _ json.Unmarshaler = (*ClientIdentityPolicy)(nil)

// UnmarshalJSON accept both the policy's name and its numeric value.
func (p *ClientIdentityPolicy) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		return p.UnmarshalText([]byte(name))
	}

	var value uint
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	*p = ClientIdentityPolicy(value)
	return nil
}

// IdentityFunc retrieve the identifier of the authenticated user that sent
// the request. It reports false if the request isn't authenticated.
type IdentityFunc func(req *http.Request) (string, bool)

// identityKey is the context key for the authenticated identity.
type identityKey struct{}

// WithIdentity attach the authenticated user `id` to `ctx`.
//
// Authentication middlewares may use this to let `IdentityFromContext`
// (the default `IdentityFunc`) find the user.
func WithIdentity(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext retrieve the identity attached to the request's
// context by `WithIdentity`.
func IdentityFromContext(req *http.Request) (string, bool) {
	id, ok := req.Context().Value(identityKey{}).(string)
	return id, ok && len(id) > 0
}

// newAnonymousID generate a random, URL-safe identifier from `size`
// cryptographically secure bytes.
func newAnonymousID(size int) (string, error) {
	buf := make([]byte, size)

	_, err := crand.Read(buf)
	if err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

package federation

import (
	"context"
	"net/url"
	"time"
)

// Object is the host-supplied capability for one ActivityPub kind: a pair
// of types (S the stored/native representation, W the wire/JSON
// representation) plus the operations needed to move between local storage
// and the network.
//
// Invariant: FromWire(IntoWire(x)) must be semantically equivalent to x.
// Invariant: Verify must enforce that wire's id authority equals
// expectedOrigin's authority.
type Object[S any, W any] interface {
	ReadByID(ctx context.Context, id *url.URL, data *Context) (S, error)
	IntoWire(ctx context.Context, stored S, data *Context) (W, error)
	Verify(ctx context.Context, wire W, expectedOrigin *url.URL, data *Context) error
	FromWire(ctx context.Context, wire W, data *Context) (S, error)
	Delete(ctx context.Context, stored S, data *Context) error
	// LastRefreshedAt reports when stored was last fetched from the
	// network. ok is false for objects that never carry a timestamp (e.g.
	// purely local objects), which are treated as always fresh.
	LastRefreshedAt(stored S) (t time.Time, ok bool)
}

// Actor holds the accessors the send and receive paths need: identity URL,
// public key, optional private key, and inbox addressing (inbox and
// optional shared inbox). It does not embed Object; callers pass an Actor
// alongside an Object for the same stored type.
type Actor[S any] interface {
	ID(stored S) *url.URL
	PublicKeyPEM(stored S) string
	PrivateKeyPEM(stored S) string // empty for remote actors
	Inbox(stored S) *url.URL
	SharedInbox(stored S) *url.URL // nil if the actor has none
}

// ActivityHandler is the capability an incoming activity envelope
// implements so the receive pipeline can hand it to application logic
// after signature verification succeeds.
type ActivityHandler interface {
	ID() *url.URL
	ActorID() *url.URL
	// Verify runs the host's own semantic validation, after URL/domain and
	// signature checks have already passed.
	Verify(ctx context.Context, data *Context) error
	// Receive runs the host's side effects for this activity.
	Receive(ctx context.Context, data *Context) error
}

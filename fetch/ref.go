package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/fenwick-labs/apfed/federation"
)

// ActorRefetchInterval is how stale a remote object's LastRefreshedAt must
// be before it is refetched, in release mode.
const ActorRefetchInterval = 24 * time.Hour

// ActorRefetchIntervalDebug is the much shorter interval used in debug
// mode so integration tests don't have to wait a day.
const ActorRefetchIntervalDebug = 20 * time.Second

// Ref is a type-tagged URL: S is the host's stored representation and W is
// the wire representation for the kind this reference points at. The type
// parameters are erased on the wire — serialization is the bare URL
// string.
type Ref[S any, W any] struct {
	url *url.URL
}

// NewRef wraps an already-parsed URL.
func NewRef[S any, W any](u *url.URL) Ref[S, W] {
	return Ref[S, W]{url: u}
}

// ParseRef parses raw as a URL and wraps it.
func ParseRef[S any, W any](raw string) (Ref[S, W], error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Ref[S, W]{}, federation.NewUrlParse(err)
	}
	if u.Host == "" {
		return Ref[S, W]{}, federation.NewUrlParse(fmt.Errorf("ref: url %q has no host", raw))
	}
	return Ref[S, W]{url: u}, nil
}

func (r Ref[S, W]) URL() *url.URL { return r.url }

func (r Ref[S, W]) String() string {
	if r.url == nil {
		return ""
	}
	return r.url.String()
}

func (r Ref[S, W]) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Ref[S, W]) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	r.url = u
	return nil
}

func shouldRefetch(t time.Time, hasTimestamp bool, debug bool) bool {
	if !hasTimestamp {
		return false
	}
	interval := ActorRefetchInterval
	if debug {
		interval = ActorRefetchIntervalDebug
	}
	return time.Since(t) > interval
}

// Dereference resolves r using the local-first policy: local URLs are
// answered purely from storage (or NotFound) and never touch the network;
// remote URLs return the stored copy if fresh, refetch it if stale, and
// fetch it for the first time if missing.
func (r Ref[S, W]) Dereference(ctx context.Context, cfg *federation.Config, rctx *federation.Context, obj federation.Object[S, W]) (S, error) {
	ctx, span := tracer.Start(ctx, "Dereference")
	defer span.End()

	var zero S

	stored, err := obj.ReadByID(ctx, r.url, rctx)

	if cfg.IsLocalURL(r.url) {
		if err != nil {
			return zero, federation.ErrNotFound
		}
		return stored, nil
	}

	if err == nil {
		refreshedAt, hasTimestamp := obj.LastRefreshedAt(stored)
		if !shouldRefetch(refreshedAt, hasTimestamp, cfg.Debug) {
			return stored, nil
		}
		return r.dereferenceFromHTTP(ctx, cfg, rctx, obj, &stored)
	}

	return r.dereferenceFromHTTP(ctx, cfg, rctx, obj, nil)
}

// DereferenceLocal resolves r purely from storage, erroring if absent. It
// never issues HTTP requests even for remote URLs.
func (r Ref[S, W]) DereferenceLocal(ctx context.Context, rctx *federation.Context, obj federation.Object[S, W]) (S, error) {
	ctx, span := tracer.Start(ctx, "DereferenceLocal")
	defer span.End()

	stored, err := obj.ReadByID(ctx, r.url, rctx)
	if err != nil {
		var zero S
		return zero, federation.ErrNotFound
	}
	return stored, nil
}

// DereferenceForced always refetches remote objects regardless of
// freshness; local URLs are still answered purely from storage.
func (r Ref[S, W]) DereferenceForced(ctx context.Context, cfg *federation.Config, rctx *federation.Context, obj federation.Object[S, W]) (S, error) {
	ctx, span := tracer.Start(ctx, "DereferenceForced")
	defer span.End()

	if cfg.IsLocalURL(r.url) {
		stored, err := obj.ReadByID(ctx, r.url, rctx)
		if err != nil {
			var zero S
			return zero, federation.ErrNotFound
		}
		return stored, nil
	}

	stored, err := obj.ReadByID(ctx, r.url, rctx)
	if err != nil {
		return r.dereferenceFromHTTP(ctx, cfg, rctx, obj, nil)
	}
	return r.dereferenceFromHTTP(ctx, cfg, rctx, obj, &stored)
}

// dereferenceFromHTTP fetches r over HTTP and reconciles the result with an
// optional existing local copy. On ObjectDeleted, the existing copy (if
// any) is deleted from storage before the error propagates to the caller.
func (r Ref[S, W]) dereferenceFromHTTP(ctx context.Context, cfg *federation.Config, rctx *federation.Context, obj federation.Object[S, W], existing *S) (S, error) {
	var zero S

	wire, finalURL, err := Fetch[W](ctx, cfg, rctx, r.url)
	if err != nil {
		if ferr, ok := err.(*federation.Error); ok && ferr.Kind == federation.KindObjectDeleted {
			if existing != nil {
				if derr := obj.Delete(ctx, *existing, rctx); derr != nil {
					return zero, derr
				}
			}
		}
		return zero, err
	}

	if err := obj.Verify(ctx, wire, finalURL, rctx); err != nil {
		return zero, err
	}

	stored, err := obj.FromWire(ctx, wire, rctx)
	if err != nil {
		return zero, err
	}
	return stored, nil
}

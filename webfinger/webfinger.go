// Package webfinger resolves a user@domain handle to an actor URL via
// RFC 7033 WebFinger, then dereferences that URL through the fetch package.
package webfinger

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/fenwick-labs/apfed/federation"
	"github.com/fenwick-labs/apfed/fetch"
)

var tracer = otel.Tracer("webfinger")

// Link is one entry of a WebFinger response's "links" array.
type Link struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`
}

// Response is the subset of an RFC 7033 WebFinger document this package
// uses.
type Response struct {
	Subject string `json:"subject"`
	Links   []Link `json:"links"`
}

// Resolve splits handle as "user@domain", fetches that domain's WebFinger
// document, and dereferences the first self link whose type is absent or
// begins "application/" that successfully resolves via C4. S is the actor's
// stored type and W its wire type.
func Resolve[S any, W any](ctx context.Context, cfg *federation.Config, rctx *federation.Context, handle string, obj federation.Object[S, W]) (S, error) {
	ctx, span := tracer.Start(ctx, "Resolve")
	defer span.End()

	var zero S

	user, domain, err := splitHandle(handle)
	if err != nil {
		wrapped := federation.NewWebfingerResolveFailed(err)
		span.RecordError(wrapped)
		return zero, wrapped
	}

	scheme := "https"
	if cfg.Debug {
		scheme = "http"
	}
	target, err := url.Parse(fmt.Sprintf("%s://%s/.well-known/webfinger", scheme, domain))
	if err != nil {
		wrapped := federation.NewWebfingerResolveFailed(err)
		span.RecordError(wrapped)
		return zero, wrapped
	}
	q := target.Query()
	q.Set("resource", "acct:"+user+"@"+domain)
	target.RawQuery = q.Encode()

	doc, _, err := fetch.Fetch[Response](ctx, cfg, rctx, target)
	if err != nil {
		wrapped := federation.NewWebfingerResolveFailed(err)
		span.RecordError(wrapped)
		return zero, wrapped
	}

	var lastErr error
	for _, link := range doc.Links {
		if link.Rel != "self" || link.Href == "" {
			continue
		}
		if link.Type != "" && !strings.HasPrefix(link.Type, "application/") {
			continue
		}
		href, err := url.Parse(link.Href)
		if err != nil {
			lastErr = err
			continue
		}
		ref := fetch.NewRef[S, W](href)
		stored, err := ref.Dereference(ctx, cfg, rctx, obj)
		if err != nil {
			lastErr = err
			continue
		}
		return stored, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("webfinger: no usable self link in response for %s", handle)
	}
	wrapped := federation.NewWebfingerResolveFailed(lastErr)
	span.RecordError(wrapped)
	return zero, wrapped
}

func splitHandle(handle string) (user string, domain string, err error) {
	handle = strings.TrimPrefix(handle, "acct:")
	handle = strings.TrimPrefix(handle, "@")
	at := strings.IndexByte(handle, '@')
	if at <= 0 || at == len(handle)-1 {
		return "", "", fmt.Errorf("webfinger: %q is not a user@domain handle", handle)
	}
	return handle[:at], handle[at+1:], nil
}

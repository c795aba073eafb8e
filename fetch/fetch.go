// Package fetch implements the fetch primitive (C3) and the typed object
// reference with local-first dereferencing (C4).
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel"

	"github.com/fenwick-labs/apfed/federation"
	"github.com/fenwick-labs/apfed/httpsig"
)

var tracer = otel.Tracer("fetch")

// MaxResponseBody is the hard cap on a fetched response body.
const MaxResponseBody = 200 * 1024

const activityJSONContentType = "application/activity+json"

// Fetch issues a GET to target and decodes the JSON response into a W. It
// enforces local-domain rejection, URL verification, per-request
// fetch-count accounting, the 410 Gone → ObjectDeleted mapping, and the
// response body size cap, per C3. The returned URL is the request's final
// URL after redirects, which callers use as the authoritative origin for
// Object.Verify.
func Fetch[W any](ctx context.Context, cfg *federation.Config, rctx *federation.Context, target *url.URL) (wire W, finalURL *url.URL, err error) {
	ctx, span := tracer.Start(ctx, "Fetch")
	defer span.End()

	var zero W

	if cfg.IsLocalURL(target) {
		return zero, nil, federation.NewOther(fmt.Sprintf("fetch: refusing to HTTP-fetch local url %s", target))
	}
	if err := cfg.VerifyUrlValid(target); err != nil {
		span.RecordError(err)
		return zero, nil, err
	}
	if exceeded := rctx.IncrementFetchCount(); exceeded {
		err := federation.NewRequestLimit()
		span.RecordError(err)
		return zero, nil, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, target.String(), nil)
	if err != nil {
		return zero, nil, federation.NewUrlParse(err)
	}
	req.Header.Set("Accept", activityJSONContentType)
	req.Header.Set("Accept-Charset", "utf-8")

	if cfg.SignedFetchActor != "" {
		key, ok := cfg.KeyCache.Get(cfg.SignedFetchActor)
		if !ok {
			// Key not cached yet; the embedding application is expected
			// to have primed the cache for its configured fetch actor, so
			// treat a cold cache as a signing failure rather than
			// silently sending an unsigned request.
			err := federation.NewKeySign(fmt.Errorf("fetch: no cached key for signed-fetch actor %s", cfg.SignedFetchActor))
			span.RecordError(err)
			return zero, nil, err
		}
		if err := httpsig.Sign(req, nil, key, httpsig.SignOptions{
			KeyID:  cfg.SignedFetchActor + "#main-key",
			Compat: cfg.HttpSignatureCompat,
		}); err != nil {
			wrapped := federation.NewKeySign(err)
			span.RecordError(wrapped)
			return zero, nil, wrapped
		}
	}

	resp, err := cfg.Client.Do(req)
	if err != nil {
		wrapped := federation.NewHttp(err)
		span.RecordError(wrapped)
		return zero, nil, wrapped
	}
	defer resp.Body.Close()

	finalURL = target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}

	if resp.StatusCode == http.StatusGone {
		err := federation.NewObjectDeleted(target)
		span.RecordError(err)
		return zero, finalURL, err
	}

	limited := io.LimitReader(resp.Body, MaxResponseBody+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		wrapped := federation.NewHttp(err)
		span.RecordError(wrapped)
		return zero, finalURL, wrapped
	}
	if len(body) > MaxResponseBody {
		err := federation.NewResponseBodyLimit()
		span.RecordError(err)
		return zero, finalURL, err
	}

	if err := json.Unmarshal(body, &wire); err != nil {
		wrapped := federation.NewJson(err)
		span.RecordError(wrapped)
		return zero, finalURL, wrapped
	}

	return wire, finalURL, nil
}

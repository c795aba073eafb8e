// Package inbox implements the inbox reception pipeline (C7): digest and
// signature verification, signing-actor dereference, and handing the
// activity to application logic.
package inbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel"

	"github.com/fenwick-labs/apfed/federation"
	"github.com/fenwick-labs/apfed/fetch"
	"github.com/fenwick-labs/apfed/httpsig"
)

var tracer = otel.Tracer("inbox")

// EnvelopeDecoder parses a raw request body into one of the host's
// registered ActivityHandler variants. Implementations try each variant in
// declared order, per the polymorphic envelope design (spec design notes).
type EnvelopeDecoder func(body []byte) (federation.ActivityHandler, error)

// ReceiveActivity runs the full C7 pipeline against an incoming request.
// actorObj/actorCap are the host's Object+Actor capability for the actor
// kind(s) referenced by activity.ActorID(); S is that actor's stored type
// and W its wire type.
//
// Any step's error is returned unchanged and none of the post-parse steps
// mutate application state before signature verification succeeds.
func ReceiveActivity[S any, W any](
	ctx context.Context,
	cfg *federation.Config,
	rctx *federation.Context,
	r *http.Request,
	body []byte,
	decode EnvelopeDecoder,
	actorObj federation.Object[S, W],
	actorCap federation.Actor[S],
) error {
	ctx, span := tracer.Start(ctx, "ReceiveActivity")
	defer span.End()

	if err := httpsig.VerifyDigest(r.Header.Get("Digest"), body); err != nil {
		wrapped := federation.NewBodyDigestInvalid(err)
		span.RecordError(wrapped)
		return wrapped
	}

	activity, err := decode(body)
	if err != nil {
		wrapped := federation.NewParseReceivedActivity(bestEffortActivityID(body), err)
		span.RecordError(wrapped)
		return wrapped
	}

	if err := cfg.VerifyUrlAndDomain(activity.ID(), activity.ActorID()); err != nil {
		span.RecordError(err)
		return err
	}

	ref := fetch.NewRef[S, W](activity.ActorID())
	actor, err := ref.Dereference(ctx, cfg, rctx, actorObj)
	if err != nil {
		span.RecordError(err)
		return err
	}

	pub, err := httpsig.ParsePublicKey(actorCap.PublicKeyPEM(actor))
	if err != nil {
		wrapped := federation.NewSignatureInvalid(err)
		span.RecordError(wrapped)
		return wrapped
	}
	if err := httpsig.Verify(r, pub); err != nil {
		wrapped := federation.NewSignatureInvalid(err)
		span.RecordError(wrapped)
		return wrapped
	}

	if err := activity.Verify(ctx, rctx); err != nil {
		span.RecordError(err)
		return err
	}
	if err := activity.Receive(ctx, rctx); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// bestEffortActivityID tries to pull an "id" field out of otherwise
// unparseable JSON, to aid operators debugging a rejected activity.
func bestEffortActivityID(body []byte) *url.URL {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &probe); err != nil || probe.ID == "" {
		return nil
	}
	u, err := url.Parse(probe.ID)
	if err != nil {
		return nil
	}
	return u
}

// VerifySignatureBySigningActor implements the "actor discovery from
// signature" variant of C2/C7: given only the request, extract keyId,
// dereference it as the actor, and verify with that actor's public key.
// This is used for inbound requests under secure-mode federation where the
// activity's declared actor isn't trusted until its signature checks out.
func VerifySignatureBySigningActor[S any, W any](
	ctx context.Context,
	cfg *federation.Config,
	rctx *federation.Context,
	r *http.Request,
	actorObj federation.Object[S, W],
	actorCap federation.Actor[S],
) error {
	ctx, span := tracer.Start(ctx, "VerifySignatureBySigningActor")
	defer span.End()

	actorURLStr, _, err := httpsig.KeyIDFromSignature(r)
	if err != nil {
		wrapped := federation.NewSignatureInvalid(err)
		span.RecordError(wrapped)
		return wrapped
	}
	actorURL, err := url.Parse(actorURLStr)
	if err != nil {
		wrapped := federation.NewSignatureInvalid(err)
		span.RecordError(wrapped)
		return wrapped
	}

	ref := fetch.NewRef[S, W](actorURL)
	actor, err := ref.Dereference(ctx, cfg, rctx, actorObj)
	if err != nil {
		span.RecordError(err)
		return err
	}

	pub, err := httpsig.ParsePublicKey(actorCap.PublicKeyPEM(actor))
	if err != nil {
		wrapped := federation.NewSignatureInvalid(err)
		span.RecordError(wrapped)
		return wrapped
	}
	if err := httpsig.Verify(r, pub); err != nil {
		wrapped := federation.NewSignatureInvalid(err)
		span.RecordError(wrapped)
		return wrapped
	}
	return nil
}

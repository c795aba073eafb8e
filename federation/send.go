package federation

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/fenwick-labs/apfed/httpsig"
	"github.com/fenwick-labs/apfed/queue"
)

// SendActivity is the single supported entrypoint for emitting an
// activity: serialize once, deduplicate and filter the inbox set, look up
// the cached signing key, and hand one send task per inbox to the queue
// (or, in debug mode, send every inbox inline and synchronously).
//
// Direct inbox posting is intentionally not exposed; this is the only way
// the engine emits outbound activities.
func SendActivity(ctx context.Context, cfg *Config, activity any, activityID *url.URL, actorURL *url.URL, actorPrivateKeyPEM string, inboxes []*url.URL) error {
	ctx, span := tracer.Start(ctx, "SendActivity")
	defer span.End()

	body, err := json.Marshal(activity)
	if err != nil {
		dump := fmt.Sprintf("%+v", activity)
		wrapped := NewSerializeOutgoingActivity(err, dump)
		span.RecordError(wrapped)
		return wrapped
	}

	filtered := dedupeAndFilterInboxes(cfg, inboxes)

	key, err := cfg.KeyCache.ParsedKeyFor(actorURL.String(), actorPrivateKeyPEM)
	if err != nil {
		span.RecordError(err)
		return err
	}
	keyID := actorURL.String() + "#main-key"

	if cfg.Debug {
		sendInline(ctx, cfg, body, activityID, actorURL, keyID, key, filtered)
		return nil
	}

	for i, inbox := range filtered {
		cfg.Queue.Enqueue(queue.SendTask{
			TaskID:     fmt.Sprintf("%s#%d", activityID, i),
			ActorURL:   actorURL,
			ActivityID: activityID,
			InboxURL:   inbox,
			Body:       body,
			KeyID:      keyID,
			Key:        key,
		})
	}
	return nil
}

// dedupeAndFilterInboxes drops duplicate inboxes, inboxes on the local
// domain, and inboxes that fail URL validity. Invalid inboxes are logged
// and skipped; they never fail the send.
func dedupeAndFilterInboxes(cfg *Config, inboxes []*url.URL) []*url.URL {
	seen := make(map[string]bool, len(inboxes))
	filtered := make([]*url.URL, 0, len(inboxes))
	for _, inbox := range inboxes {
		if inbox == nil {
			continue
		}
		key := inbox.String()
		if seen[key] {
			continue
		}
		seen[key] = true

		if cfg.IsLocalURL(inbox) {
			continue
		}
		if err := cfg.VerifyUrlValid(inbox); err != nil {
			log.Printf("federation: skipping invalid inbox %s: %v", key, err)
			continue
		}
		filtered = append(filtered, inbox)
	}
	return filtered
}

// sendInline bypasses the queue entirely: used in debug mode to keep
// integration tests deterministic. Failures are logged but never fail the
// caller.
func sendInline(ctx context.Context, cfg *Config, body []byte, activityID, actorURL *url.URL, keyID string, key *rsa.PrivateKey, inboxes []*url.URL) {
	for _, inbox := range inboxes {
		if err := sendOnce(ctx, cfg, body, keyID, key, inbox); err != nil {
			log.Printf("federation: debug-mode inline send of %s to %s failed: %v", activityID, inbox, err)
		}
	}
}

func sendOnce(ctx context.Context, cfg *Config, body []byte, keyID string, key *rsa.PrivateKey, inbox *url.URL) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inbox.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/activity+json")
	req.Host = inbox.Host
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	if err := httpsig.Sign(req, body, key, httpsig.SignOptions{KeyID: keyID, Compat: cfg.HttpSignatureCompat}); err != nil {
		return err
	}

	resp, err := cfg.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("federation: inbox %s returned status %d", inbox, resp.StatusCode)
	}
	return nil
}

package federation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/fenwick-labs/apfed/httpsig"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q): %v", raw, err)
	}
	return u
}

func TestDedupeAndFilterInboxes(t *testing.T) {
	cfg := &Config{Domain: "a.example", UrlVerifier: DefaultUrlVerifier{}}

	inboxes := []*url.URL{
		mustURL(t, "https://remote.example/inbox"),
		mustURL(t, "https://remote.example/inbox"), // duplicate
		mustURL(t, "https://a.example/inbox"),      // local, dropped
		mustURL(t, "ftp://remote.example/inbox"),   // invalid scheme, dropped
	}

	got := dedupeAndFilterInboxes(cfg, inboxes)
	if len(got) != 1 {
		t.Fatalf("got %d inboxes, want 1: %v", len(got), got)
	}
	if got[0].String() != "https://remote.example/inbox" {
		t.Errorf("got %q, want https://remote.example/inbox", got[0])
	}
}

func TestSendActivityRejectsMaliciousHost(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	verifier := UrlVerifierFunc(func(u *url.URL) error {
		if u.Host == "malicious.com" {
			return errBlocked
		}
		return nil
	})

	cfg, err := NewConfigBuilder().
		Domain("a.example").
		Debug(true).
		UrlVerifier(verifier).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	privPEM, _, err := httpsig.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error = %v", err)
	}

	actorURL := mustURL(t, "https://a.example/u/alpha")
	activityID := mustURL(t, "https://a.example/objects/1")
	malicious := mustURL(t, "https://malicious.com/inbox")

	if err := SendActivity(context.Background(), cfg, map[string]string{"type": "Follow"}, activityID, actorURL, privPEM, []*url.URL{malicious}); err != nil {
		t.Fatalf("SendActivity() error = %v", err)
	}
	if called {
		t.Error("malicious inbox should never have been contacted")
	}
}

type blockedErr struct{}

func (blockedErr) Error() string { return "blocked" }

var errBlocked = blockedErr{}

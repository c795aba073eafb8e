package webfinger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/fenwick-labs/apfed/federation"
)

type personWire struct {
	ID string `json:"id"`
}

type personStored struct {
	ID          string
	RefreshedAt time.Time
}

type personStore struct {
	byID map[string]personStored
}

func (s *personStore) ReadByID(ctx context.Context, id *url.URL, data *federation.Context) (personStored, error) {
	v, ok := s.byID[id.String()]
	if !ok {
		return personStored{}, federation.ErrNotFound
	}
	return v, nil
}

func (s *personStore) IntoWire(ctx context.Context, stored personStored, data *federation.Context) (personWire, error) {
	return personWire{ID: stored.ID}, nil
}

func (s *personStore) Verify(ctx context.Context, wire personWire, expectedOrigin *url.URL, data *federation.Context) error {
	id, err := url.Parse(wire.ID)
	if err != nil {
		return federation.NewUrlParse(err)
	}
	if id.Host != expectedOrigin.Host {
		return federation.NewUrlVerificationError("origin mismatch")
	}
	return nil
}

func (s *personStore) FromWire(ctx context.Context, wire personWire, data *federation.Context) (personStored, error) {
	stored := personStored{ID: wire.ID, RefreshedAt: time.Now()}
	s.byID[wire.ID] = stored
	return stored, nil
}

func (s *personStore) Delete(ctx context.Context, stored personStored, data *federation.Context) error {
	delete(s.byID, stored.ID)
	return nil
}

func (s *personStore) LastRefreshedAt(stored personStored) (time.Time, bool) {
	return stored.RefreshedAt, true
}

func TestResolveFindsSelfLinkAndDereferences(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("/.well-known/webfinger", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("resource") != "acct:alice@"+r.Host {
			t.Errorf("unexpected resource param %q", r.URL.Query().Get("resource"))
		}
		w.Header().Set("Content-Type", "application/jrd+json")
		w.Write([]byte(`{
			"subject": "acct:alice@` + r.Host + `",
			"links": [
				{"rel": "http://webfinger.net/rel/profile-page", "type": "text/html", "href": "` + srv.URL + `/@alice"},
				{"rel": "self", "type": "application/activity+json", "href": "` + srv.URL + `/actors/alice"}
			]
		}`))
	})
	mux.HandleFunc("/actors/alice", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"` + srv.URL + `/actors/alice"}`))
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	host := srv.Listener.Addr().String()
	store := &personStore{byID: map[string]personStored{}}
	cfg, err := federation.NewConfigBuilder().Domain("local.example").Debug(true).Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	rctx := federation.NewContext(cfg)

	stored, err := Resolve[personStored, personWire](context.Background(), cfg, rctx, "alice@"+host, store)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if stored.ID != srv.URL+"/actors/alice" {
		t.Errorf("stored.ID = %q, want %q", stored.ID, srv.URL+"/actors/alice")
	}
}

func TestResolveRejectsMalformedHandle(t *testing.T) {
	cfg, _ := federation.NewConfigBuilder().Domain("local.example").Debug(true).Build()
	rctx := federation.NewContext(cfg)
	store := &personStore{byID: map[string]personStored{}}

	_, err := Resolve[personStored, personWire](context.Background(), cfg, rctx, "not-a-handle", store)
	var ferr *federation.Error
	if err == nil {
		t.Fatal("expected error for malformed handle")
	}
	if as, ok := err.(*federation.Error); ok {
		ferr = as
	}
	if ferr == nil || ferr.Kind != federation.KindWebfingerResolveFailed {
		t.Fatalf("expected WebfingerResolveFailed, got %v", err)
	}
}

func TestResolveSkipsNonSelfLinks(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/.well-known/webfinger", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"subject":"acct:bob@x","links":[{"rel":"http://webfinger.net/rel/profile-page","href":"` + srv.URL + `/@bob"}]}`))
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	host := srv.Listener.Addr().String()
	cfg, _ := federation.NewConfigBuilder().Domain("local.example").Debug(true).Build()
	rctx := federation.NewContext(cfg)
	store := &personStore{byID: map[string]personStored{}}

	_, err := Resolve[personStored, personWire](context.Background(), cfg, rctx, "bob@"+host, store)
	if err == nil {
		t.Fatal("expected WebfingerResolveFailed when no usable self link is present")
	}
}

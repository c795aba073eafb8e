package federation

import (
	"crypto/rsa"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"

	"github.com/fenwick-labs/apfed/httpsig"
	"github.com/fenwick-labs/apfed/queue"
)

var tracer = otel.Tracer("federation")

// UrlVerifier is an injectable predicate for blocklisting or otherwise
// rejecting remote URLs (e.g. instance blocklists). The default accepts
// everything that passed the built-in scheme/host checks.
type UrlVerifier interface {
	Verify(u *url.URL) error
}

// DefaultUrlVerifier accepts any URL that reached it.
type DefaultUrlVerifier struct{}

func (DefaultUrlVerifier) Verify(*url.URL) error { return nil }

// UrlVerifierFunc adapts a function to a UrlVerifier.
type UrlVerifierFunc func(u *url.URL) error

func (f UrlVerifierFunc) Verify(u *url.URL) error { return f(u) }

// ActorKeyCache caches parsed RSA private keys for local actors, keyed by
// actor URL, because PEM decoding is CPU-expensive and actors sign
// repeatedly.
type ActorKeyCache struct {
	cache *lru.Cache[string, *rsa.PrivateKey]
}

// NewActorKeyCache builds an LRU of the given capacity. capacity <= 0 uses
// the engine default of 10000.
func NewActorKeyCache(capacity int) (*ActorKeyCache, error) {
	if capacity <= 0 {
		capacity = 10000
	}
	c, err := lru.New[string, *rsa.PrivateKey](capacity)
	if err != nil {
		return nil, fmt.Errorf("federation: build actor key cache: %w", err)
	}
	return &ActorKeyCache{cache: c}, nil
}

func (c *ActorKeyCache) Get(actorURL string) (*rsa.PrivateKey, bool) {
	return c.cache.Get(actorURL)
}

func (c *ActorKeyCache) Put(actorURL string, key *rsa.PrivateKey) {
	c.cache.Add(actorURL, key)
}

// ParsedKeyFor returns the cached parsed private key for actorURL, parsing
// and caching pemKey if this is the first lookup. PEM parsing is
// CPU-expensive, which is the entire reason this cache exists.
func (c *ActorKeyCache) ParsedKeyFor(actorURL string, pemKey string) (*rsa.PrivateKey, error) {
	if key, ok := c.Get(actorURL); ok {
		return key, nil
	}
	key, err := httpsig.ParsePrivateKey(pemKey)
	if err != nil {
		return nil, NewKeySign(err)
	}
	c.Put(actorURL, key)
	return key, nil
}

// Config is the engine's immutable settings, built once via
// NewConfigBuilder and never mutated afterward.
type Config struct {
	Domain             string
	Client             *http.Client
	Debug              bool
	AllowHttp          bool
	RequestTimeout     time.Duration
	HttpFetchLimit     int
	HttpSignatureCompat bool
	SignedFetchActor   string // optional local actor URL used to sign outbound fetches
	WorkerCount        int
	RetryCount         int
	UrlVerifier        UrlVerifier
	KeyCache           *ActorKeyCache
	AppData            any

	// Queue is constructed during Build and lives for the engine's
	// lifetime; nil in Debug mode, where sends bypass it entirely.
	Queue *queue.Queue
}

// ConfigBuilder constructs a Config, failing at Build() if required fields
// are missing, matching the host-application builder pattern used
// throughout the corpus's config loaders.
type ConfigBuilder struct {
	cfg Config
	err error
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{cfg: Config{
		Client:         http.DefaultClient,
		RequestTimeout: 10 * time.Second,
		HttpFetchLimit: 20,
		WorkerCount:    0,
		RetryCount:     0,
		UrlVerifier:    DefaultUrlVerifier{},
	}}
}

func (b *ConfigBuilder) Domain(domain string) *ConfigBuilder {
	b.cfg.Domain = domain
	return b
}

func (b *ConfigBuilder) AppData(data any) *ConfigBuilder {
	b.cfg.AppData = data
	return b
}

func (b *ConfigBuilder) Client(client *http.Client) *ConfigBuilder {
	b.cfg.Client = client
	return b
}

func (b *ConfigBuilder) Debug(debug bool) *ConfigBuilder {
	b.cfg.Debug = debug
	if debug {
		b.cfg.AllowHttp = true
	}
	return b
}

func (b *ConfigBuilder) AllowHttp(allow bool) *ConfigBuilder {
	b.cfg.AllowHttp = allow
	return b
}

func (b *ConfigBuilder) RequestTimeout(d time.Duration) *ConfigBuilder {
	b.cfg.RequestTimeout = d
	return b
}

func (b *ConfigBuilder) HttpFetchLimit(n int) *ConfigBuilder {
	b.cfg.HttpFetchLimit = n
	return b
}

func (b *ConfigBuilder) HttpSignatureCompat(compat bool) *ConfigBuilder {
	b.cfg.HttpSignatureCompat = compat
	return b
}

func (b *ConfigBuilder) SignedFetchActor(actorURL string) *ConfigBuilder {
	b.cfg.SignedFetchActor = actorURL
	return b
}

func (b *ConfigBuilder) WorkerCount(n int) *ConfigBuilder {
	b.cfg.WorkerCount = n
	return b
}

func (b *ConfigBuilder) RetryCount(n int) *ConfigBuilder {
	b.cfg.RetryCount = n
	return b
}

func (b *ConfigBuilder) UrlVerifier(v UrlVerifier) *ConfigBuilder {
	b.cfg.UrlVerifier = v
	return b
}

func (b *ConfigBuilder) ActorKeyCacheCapacity(capacity int) *ConfigBuilder {
	cache, err := NewActorKeyCache(capacity)
	if err != nil {
		b.err = err
		return b
	}
	b.cfg.KeyCache = cache
	return b
}

// Build validates and returns the finished Config.
func (b *ConfigBuilder) Build() (*Config, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.cfg.Domain == "" {
		return nil, fmt.Errorf("federation: config requires a Domain")
	}
	if b.cfg.KeyCache == nil {
		cache, err := NewActorKeyCache(10000)
		if err != nil {
			return nil, err
		}
		b.cfg.KeyCache = cache
	}
	cfg := b.cfg

	if !cfg.Debug {
		cfg.Queue = queue.New(buildSignedRequest(&cfg), cfg.Client, queue.Options{
			WorkerCount: cfg.WorkerCount,
			RetryCount:  cfg.RetryCount,
		})
	}

	return &cfg, nil
}

// buildSignedRequest returns the queue.RequestBuilder used by the real
// (non-debug) queue: build a POST to the task's inbox, attach the body
// digest, and sign fresh every call, which is what makes slow-path retries
// safe past the one-hour signature expiry.
func buildSignedRequest(cfg *Config) queue.RequestBuilder {
	return func(task queue.SendTask) (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, task.InboxURL.String(), strings.NewReader(string(task.Body)))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/activity+json")
		req.Host = task.InboxURL.Host
		if err := httpsig.Sign(req, task.Body, task.Key, httpsig.SignOptions{
			KeyID:  task.KeyID,
			Compat: cfg.HttpSignatureCompat,
		}); err != nil {
			return nil, err
		}
		return req, nil
	}
}

// Context is a per-incoming-request clone of Config plus an outbound fetch
// counter shared by every dereference triggered while handling that
// request.
type Context struct {
	*Config
	fetchCount atomic.Int64
}

// NewContext derives a fresh per-request Context from cfg.
func NewContext(cfg *Config) *Context {
	return &Context{Config: cfg}
}

// IncrementFetchCount bumps the per-request fetch counter and reports
// whether the engine's limit was exceeded by this increment.
func (c *Context) IncrementFetchCount() (exceeded bool) {
	n := c.fetchCount.Add(1)
	return int(n) > c.HttpFetchLimit
}

func (c *Context) FetchCount() int64 { return c.fetchCount.Load() }

// IsLocalURL reports whether u's authority (host[:port]) matches the
// engine's local domain.
func (c *Config) IsLocalURL(u *url.URL) bool {
	return strings.EqualFold(u.Host, c.Domain)
}

// VerifyUrlValid enforces the URL validity rule from the engine config:
// scheme must be https (or http when AllowHttp), host must be a domain
// (localhost only in debug mode), and local URLs skip the injected
// UrlVerifier entirely.
func (c *Config) VerifyUrlValid(u *url.URL) error {
	if c.IsLocalURL(u) {
		return nil
	}
	if u.Scheme != "https" {
		if !(c.AllowHttp && u.Scheme == "http") {
			return NewUrlVerificationError(fmt.Sprintf("scheme %q is not allowed", u.Scheme))
		}
	}
	host := u.Hostname()
	if host == "" {
		return NewUrlVerificationError("url has no host")
	}
	if host == "localhost" && !c.Debug {
		return NewUrlVerificationError("localhost only allowed in debug mode")
	}
	if net.ParseIP(host) != nil && !c.Debug {
		return NewUrlVerificationError("host must be a domain, not an IP address")
	}
	if err := c.UrlVerifier.Verify(u); err != nil {
		return NewUrlVerificationError(err.Error())
	}
	return nil
}

// VerifyUrlAndDomain is the activity-envelope-level check from the receive
// pipeline: id and actor must share an authority, and the id must pass the
// generic URL validity rule and must not be local (an activity claiming to
// originate from this engine's own domain is never legitimate inbound
// traffic).
func (c *Config) VerifyUrlAndDomain(id, actor *url.URL) error {
	if !strings.EqualFold(id.Host, actor.Host) {
		return NewUrlVerificationError("activity id and actor authority differ")
	}
	if err := c.VerifyUrlValid(id); err != nil {
		return err
	}
	if c.IsLocalURL(id) {
		return NewUrlVerificationError("received activity claims a local id")
	}
	return nil
}

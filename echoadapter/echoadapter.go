// Package echoadapter wires the federation engine's webfinger and inbox
// entry points onto an echo.Echo server. It is HTTP-framework glue, not a
// core engine concern: swapping frameworks never touches httpsig, queue,
// federation, fetch, or inbox.
package echoadapter

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/fenwick-labs/apfed/federation"
	"github.com/fenwick-labs/apfed/inbox"
	"github.com/fenwick-labs/apfed/webfinger"
)

var errMissingResource = errors.New("echoadapter: resource must be acct:user@domain")

// ActorLookup resolves the path parameter of an acct route to the actor's
// stored representation, the way the demo DataStore looks accounts up by
// local identifier rather than by full actor URL.
type ActorLookup[S any] func(c echo.Context) (S, error)

// Adapter binds one actor kind's capability (S stored, W wire) to a set of
// echo routes. Applications serving more than one actor kind mount one
// Adapter per kind under distinct path prefixes.
type Adapter[S any, W any] struct {
	Config      *federation.Config
	ActorObject federation.Object[S, W]
	ActorCap    federation.Actor[S]
	Lookup      ActorLookup[S]
	Decode      inbox.EnvelopeDecoder
}

// RegisterRoutes mounts the actor profile, per-actor inbox, and shared inbox
// endpoints under group, mirroring the teacher's `/ap` route grouping.
// WebFinger is not mounted here; RegisterWellKnown serves it at the root.
func (a *Adapter[S, W]) RegisterRoutes(group *echo.Group) {
	group.GET("/acct/:id", a.handleActorProfile)
	group.POST("/acct/:id/inbox", a.handleInbox)
	group.POST("/inbox", a.handleSharedInbox)
}

// LocalActorByHandle resolves the username portion of an
// "acct:user@domain" resource to a local actor, for serving this server's
// own WebFinger document. It is the server-side counterpart of
// webfinger.Resolve, which is for resolving handles on other servers.
type LocalActorByHandle[S any] func(c echo.Context, user string) (S, error)

// RegisterWellKnown mounts the WebFinger endpoint at the fixed
// .well-known path, which must live at the server root rather than under
// any /ap-style group. It answers with this server's own actor documents,
// never by calling out to another server.
func RegisterWellKnown[S any](e *echo.Echo, actorCap federation.Actor[S], lookup LocalActorByHandle[S]) {
	e.GET("/.well-known/webfinger", func(c echo.Context) error {
		resource := c.QueryParam("resource")
		user, err := acctUser(resource)
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		stored, err := lookup(c, user)
		if err != nil {
			return c.NoContent(http.StatusNotFound)
		}
		doc := webfinger.Response{
			Subject: resource,
			Links: []webfinger.Link{
				{Rel: "self", Type: "application/activity+json", Href: actorCap.ID(stored).String()},
			},
		}
		return c.JSON(http.StatusOK, doc)
	})
}

func acctUser(resource string) (string, error) {
	resource = strings.TrimPrefix(resource, "acct:")
	at := strings.IndexByte(resource, '@')
	if at <= 0 {
		return "", errMissingResource
	}
	return resource[:at], nil
}

func (a *Adapter[S, W]) handleActorProfile(c echo.Context) error {
	stored, err := a.Lookup(c)
	if err != nil {
		return c.NoContent(http.StatusNotFound)
	}
	ctx := c.Request().Context()
	rctx := federation.NewContext(a.Config)
	wire, err := a.ActorObject.IntoWire(ctx, stored, rctx)
	if err != nil {
		log.Printf("echoadapter: serialize actor profile: %v", err)
		return c.NoContent(http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, wire)
}

func (a *Adapter[S, W]) handleInbox(c echo.Context) error {
	return a.receive(c)
}

func (a *Adapter[S, W]) handleSharedInbox(c echo.Context) error {
	return a.receive(c)
}

func (a *Adapter[S, W]) receive(c echo.Context) error {
	req := c.Request()
	body, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	req.Body.Close()

	rctx := federation.NewContext(a.Config)
	err = inbox.ReceiveActivity[S, W](req.Context(), a.Config, rctx, req, body, a.Decode, a.ActorObject, a.ActorCap)
	if err != nil {
		log.Printf("echoadapter: receive activity failed: %v", err)
		if ferr, ok := err.(*federation.Error); ok {
			switch ferr.Kind {
			case federation.KindBodyDigestInvalid, federation.KindSignatureInvalid, federation.KindUrlVerificationError, federation.KindParseReceivedActivity:
				return c.NoContent(http.StatusBadRequest)
			}
		}
		return c.NoContent(http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusAccepted)
}

// NewServer builds an echo.Echo configured the way the reference bridge
// configures it: hidden banner/port, prometheus metrics, request logging,
// panic recovery, and optional otel tracing middleware.
func NewServer(serviceName string, withTracing bool) *echo.Echo {
	e := echo.New()
	e.HidePort = true
	e.HideBanner = true

	if withTracing {
		skipper := otelecho.WithSkipper(func(c echo.Context) bool {
			return c.Path() == "/metrics" || c.Path() == "/health"
		})
		e.Use(otelecho.Middleware(serviceName, skipper))
	}

	e.Use(echoprometheus.NewMiddleware(serviceName))
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/metrics", echoprometheus.NewHandler())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	return e
}

package federation

import (
	"fmt"
	"net/url"
)

// Kind tags the closed set of errors the engine can return.
type Kind string

const (
	KindNotFound                   Kind = "not_found"
	KindRequestLimit                Kind = "request_limit"
	KindResponseBodyLimit           Kind = "response_body_limit"
	KindObjectDeleted               Kind = "object_deleted"
	KindUrlVerificationError        Kind = "url_verification_error"
	KindBodyDigestInvalid           Kind = "body_digest_invalid"
	KindSignatureInvalid            Kind = "signature_invalid"
	KindWebfingerResolveFailed      Kind = "webfinger_resolve_failed"
	KindParseReceivedActivity       Kind = "parse_received_activity"
	KindSerializeOutgoingActivity   Kind = "serialize_outgoing_activity"
	KindJson                        Kind = "json"
	KindHttp                        Kind = "http"
	KindUrlParse                    Kind = "url_parse"
	KindUtf8                        Kind = "utf8"
	KindKeySign                     Kind = "key_sign"
	KindOther                       Kind = "other"
)

// Error is the engine's closed error taxonomy. Which payload fields are
// populated depends on Kind; most kinds carry at most a Cause.
type Error struct {
	Kind Kind

	// ObjectDeleted payload.
	URL *url.URL

	// UrlVerificationError and Other payload.
	Reason string

	// ParseReceivedActivity payload.
	ActivityID *url.URL

	// SerializeOutgoingActivity payload.
	DebugDump string

	// Wrapped cause for bottom-layer kinds, digest/signature/webfinger
	// failures, ParseReceivedActivity and SerializeOutgoingActivity.
	Cause error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindObjectDeleted:
		return fmt.Sprintf("federation: object deleted: %s", e.URL)
	case KindUrlVerificationError:
		return fmt.Sprintf("federation: url verification failed: %s", e.Reason)
	case KindParseReceivedActivity:
		if e.ActivityID != nil {
			return fmt.Sprintf("federation: failed to parse received activity %s: %v", e.ActivityID, e.Cause)
		}
		return fmt.Sprintf("federation: failed to parse received activity: %v", e.Cause)
	case KindSerializeOutgoingActivity:
		return fmt.Sprintf("federation: failed to serialize outgoing activity: %v", e.Cause)
	case KindOther:
		return fmt.Sprintf("federation: %s", e.Reason)
	default:
		if e.Cause != nil {
			return fmt.Sprintf("federation: %s: %v", e.Kind, e.Cause)
		}
		return fmt.Sprintf("federation: %s", e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, federation.ErrNotFound) style comparisons work by
// Kind alone, ignoring payloads.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func NewNotFound() *Error { return &Error{Kind: KindNotFound} }

func NewRequestLimit() *Error { return &Error{Kind: KindRequestLimit} }

func NewResponseBodyLimit() *Error { return &Error{Kind: KindResponseBodyLimit} }

func NewObjectDeleted(u *url.URL) *Error { return &Error{Kind: KindObjectDeleted, URL: u} }

func NewUrlVerificationError(reason string) *Error {
	return &Error{Kind: KindUrlVerificationError, Reason: reason}
}

func NewBodyDigestInvalid(cause error) *Error {
	return &Error{Kind: KindBodyDigestInvalid, Cause: cause}
}

func NewSignatureInvalid(cause error) *Error {
	return &Error{Kind: KindSignatureInvalid, Cause: cause}
}

func NewWebfingerResolveFailed(cause error) *Error {
	return &Error{Kind: KindWebfingerResolveFailed, Cause: cause}
}

func NewParseReceivedActivity(id *url.URL, cause error) *Error {
	return &Error{Kind: KindParseReceivedActivity, ActivityID: id, Cause: cause}
}

func NewSerializeOutgoingActivity(cause error, debugDump string) *Error {
	return &Error{Kind: KindSerializeOutgoingActivity, Cause: cause, DebugDump: debugDump}
}

func NewJson(cause error) *Error { return &Error{Kind: KindJson, Cause: cause} }

func NewHttp(cause error) *Error { return &Error{Kind: KindHttp, Cause: cause} }

func NewUrlParse(cause error) *Error { return &Error{Kind: KindUrlParse, Cause: cause} }

func NewUtf8(cause error) *Error { return &Error{Kind: KindUtf8, Cause: cause} }

func NewKeySign(cause error) *Error { return &Error{Kind: KindKeySign, Cause: cause} }

func NewOther(reason string) *Error { return &Error{Kind: KindOther, Reason: reason} }

// ErrNotFound etc. are comparison sentinels for errors.Is; they carry no
// payload and must only be compared by Kind via Error.Is.
var (
	ErrNotFound         = NewNotFound()
	ErrRequestLimit      = NewRequestLimit()
	ErrResponseBodyLimit = NewResponseBodyLimit()
	ErrBodyDigestInvalid = &Error{Kind: KindBodyDigestInvalid}
	ErrSignatureInvalid  = &Error{Kind: KindSignatureInvalid}
)

// Package httpsig implements HTTP body digests and draft-cavage HTTP
// Signatures for outgoing and incoming ActivityPub requests. Signatures are
// RSA-SHA256 and the Signature header names the algorithm "rsa-sha256";
// the "hs2019" algorithm name is not emitted.
package httpsig

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	gofedhttpsig "github.com/go-fed/httpsig"
)

// ExpiresAfter is how far in the future outgoing signatures set their
// "(expires)" pseudo-header.
const ExpiresAfter = time.Hour

var keyIDPattern = regexp.MustCompile(`keyId="([^"]+)#([^"]+)"`)

// GenerateKeypair creates a fresh 2048 bit RSA keypair, PEM-encoded as
// PKCS#8 (private) and SPKI (public).
func GenerateKeypair() (privatePEM string, publicPEM string, err error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", "", fmt.Errorf("generate rsa key: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", "", fmt.Errorf("marshal pkcs8 private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("marshal spki public key: %w", err)
	}

	privatePEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}))
	publicPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))
	return privatePEM, publicPEM, nil
}

// ParsePrivateKey decodes a PKCS#8 PEM RSA private key.
func ParsePrivateKey(pemStr string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("httpsig: no PEM block found in private key")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("httpsig: parse pkcs8 private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("httpsig: private key is not RSA")
	}
	return rsaKey, nil
}

// ParsePublicKey decodes an SPKI PEM RSA public key.
func ParsePublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("httpsig: no PEM block found in public key")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("httpsig: parse spki public key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("httpsig: public key is not RSA")
	}
	return rsaKey, nil
}

// ComputeDigest returns the Digest header value for body.
func ComputeDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
}

// DigestPart is one algo=value entry from a Digest header.
type DigestPart struct {
	Algorithm string
	Digest    string
}

func parseDigestHeader(header string) []DigestPart {
	var parts []DigestPart
	for _, item := range strings.Split(header, ",") {
		item = strings.TrimSpace(item)
		eq := strings.IndexByte(item, '=')
		if eq < 0 {
			continue
		}
		// Digest values themselves are base64 and may contain '=' padding,
		// so only split on the first '='.
		parts = append(parts, DigestPart{
			Algorithm: strings.ToUpper(strings.TrimSpace(item[:eq])),
			Digest:    strings.TrimSpace(item[eq+1:]),
		})
	}
	return parts
}

// VerifyDigest checks a received Digest header against the actual body.
// header may be empty, in which case verification fails.
func VerifyDigest(header string, body []byte) error {
	if header == "" {
		return fmt.Errorf("httpsig: missing Digest header")
	}
	expected := sha256.Sum256(body)
	for _, part := range parseDigestHeader(header) {
		if part.Algorithm != "SHA-256" {
			continue
		}
		got, err := base64.StdEncoding.DecodeString(part.Digest)
		if err != nil {
			return fmt.Errorf("httpsig: invalid digest encoding: %w", err)
		}
		if len(got) != len(expected) {
			return fmt.Errorf("httpsig: digest mismatch")
		}
		for i := range got {
			if got[i] != expected[i] {
				return fmt.Errorf("httpsig: digest mismatch")
			}
		}
		return nil
	}
	return fmt.Errorf("httpsig: no SHA-256 digest entry found")
}

// SignOptions controls how Sign builds the Signature header.
type SignOptions struct {
	// KeyID is the full "<actor-url>#main-key" value.
	KeyID string
	// Compat omits the (created)/(expires) pseudo-headers, matching
	// Mastodon-era implementations that predate those fields.
	Compat bool
}

// headerSet returns the pseudo-headers and headers the signature covers.
// "digest" is only signable when there is a body to digest — the
// underlying go-fed/httpsig signer adds the Digest header itself (and
// only) when body is non-nil, so a bodyless request (a signed GET) must
// drop both "content-type" and "digest" from the signed set or signing
// fails looking for headers that were never set.
func headerSet(compat bool, hasBody bool) []string {
	base := []string{gofedhttpsig.RequestTarget}
	if hasBody {
		base = append(base, "content-type")
	}
	base = append(base, "date")
	if hasBody {
		base = append(base, "digest")
	}
	base = append(base, "host")
	if compat {
		return base
	}
	return append(base, "(created)", "(expires)")
}

// Sign signs req in place, adding a Digest header (if body is non-empty)
// and a Signature header covering the request line and selected headers.
// The Digest header itself is added by the underlying signer, not here —
// go-fed/httpsig's SignRequest adds it unconditionally whenever body is
// non-nil and errors if it is already present.
func Sign(req *http.Request, body []byte, key *rsa.PrivateKey, opts SignOptions) error {
	if req.Header.Get("Date") == "" {
		req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	// The signer reads "host" out of req.Header like any other signed
	// header, but Go's Request.Host is a separate field that never lands
	// in the Header map on its own. Set it explicitly so there's a value
	// to sign; net/http excludes "Host" from Header.WriteSubset and
	// writes the request-line Host from req.Host instead, so this never
	// produces a duplicate header on the wire.
	if req.Header.Get("Host") == "" {
		host := req.Host
		if host == "" && req.URL != nil {
			host = req.URL.Host
		}
		req.Header.Set("Host", host)
	}

	expiresIn := int64(0)
	if !opts.Compat {
		expiresIn = int64(ExpiresAfter.Seconds())
	}

	signer, _, err := gofedhttpsig.NewSigner(
		[]gofedhttpsig.Algorithm{gofedhttpsig.RSA_SHA256},
		gofedhttpsig.DigestSha256,
		headerSet(opts.Compat, len(body) > 0),
		gofedhttpsig.Signature,
		expiresIn,
	)
	if err != nil {
		return fmt.Errorf("httpsig: build signer: %w", err)
	}
	if err := signer.SignRequest(key, opts.KeyID, req, body); err != nil {
		return fmt.Errorf("httpsig: sign request: %w", err)
	}
	return nil
}

// Verify checks the Signature header on req against pub. It does not
// check the body digest; call VerifyDigest separately.
func Verify(req *http.Request, pub *rsa.PublicKey) error {
	if req.Header.Get("Signature") == "" {
		return fmt.Errorf("httpsig: missing Signature header")
	}
	verifier, err := gofedhttpsig.NewVerifier(req)
	if err != nil {
		return fmt.Errorf("httpsig: malformed signature header: %w", err)
	}
	if err := verifier.Verify(pub, gofedhttpsig.RSA_SHA256); err != nil {
		return fmt.Errorf("httpsig: signature verification failed: %w", err)
	}
	return nil
}

// KeyIDFromSignature extracts the "<actor-url>", "<fragment>" pair from the
// keyId parameter of a request's Signature header, enforcing the strict
// "<url>#<fragment>" shape used for actor discovery.
func KeyIDFromSignature(req *http.Request) (actorURL string, fragment string, err error) {
	header := req.Header.Get("Signature")
	if header == "" {
		return "", "", fmt.Errorf("httpsig: missing Signature header")
	}
	m := keyIDPattern.FindStringSubmatch(header)
	if m == nil {
		return "", "", fmt.Errorf("httpsig: signature keyId does not match <url>#<fragment>")
	}
	return m[1], m[2], nil
}

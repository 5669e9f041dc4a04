package httpx

import (
	"net/http"

	"github.com/capra-ai/capra/internal/sigv4"
)

// AuthPolicy selects how an envelope is authorized before sending.
type AuthPolicy int

const (
	// AuthNone sends the envelope as-is.
	AuthNone AuthPolicy = iota
	// AuthHeader injects a single credential header named by the capability.
	AuthHeader
	// AuthSigV4 signs the request with AWS Signature Version 4.
	AuthSigV4
)

// Auth carries the authorization material for an envelope.
type Auth struct {
	Policy AuthPolicy

	// AuthHeader fields.
	HeaderName  string
	HeaderValue string

	// AuthSigV4 fields.
	Credentials sigv4.Credentials
	Region      string
	Service     string
}

// Bearer builds the common `Authorization: Bearer <key>` policy.
func Bearer(key string) Auth {
	return Auth{Policy: AuthHeader, HeaderName: "Authorization", HeaderValue: "Bearer " + key}
}

// KeyHeader builds a single-header credential policy with a custom name.
func KeyHeader(name, value string) Auth {
	return Auth{Policy: AuthHeader, HeaderName: name, HeaderValue: value}
}

// SigV4 builds the AWS signing policy.
func SigV4(creds sigv4.Credentials, region, service string) Auth {
	return Auth{Policy: AuthSigV4, Credentials: creds, Region: region, Service: service}
}

// Header is one request header. Order and case are preserved through the
// engine; the signer lowercases its own view during canonicalization.
type Header struct {
	Name  string
	Value string
}

// Envelope is the uniform request shape every capability builds.
type Envelope struct {
	Method  string
	URL     string
	Headers []Header
	Body    []byte
	Auth    Auth
}

// Get creates a GET envelope.
func Get(url string, headers ...Header) Envelope {
	return Envelope{Method: http.MethodGet, URL: url, Headers: headers}
}

// Post creates a POST envelope with a JSON content type unless the caller
// supplies one.
func Post(url string, body []byte, headers ...Header) Envelope {
	hasContentType := false
	for _, h := range headers {
		if http.CanonicalHeaderKey(h.Name) == "Content-Type" {
			hasContentType = true
			break
		}
	}
	if !hasContentType {
		headers = append([]Header{{Name: "Content-Type", Value: "application/json"}}, headers...)
	}
	return Envelope{Method: http.MethodPost, URL: url, Headers: headers, Body: body}
}

// WithAuth returns a copy of the envelope carrying the given policy.
func (e Envelope) WithAuth(a Auth) Envelope {
	e.Auth = a
	return e
}

// Package sigv4 implements AWS Signature Version 4 request signing.
//
// The signer is deterministic given (request, credentials, timestamp) and is
// the only code in the repository that reads the secret access key.
package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	algorithm  = "AWS4-HMAC-SHA256"
	timeFormat = "20060102T150405Z"
	dateFormat = "20060102"
)

// Credentials holds the AWS credential triple. SessionToken is optional.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Request is the material being signed.
type Request struct {
	Method  string
	Host    string
	Path    string
	Query   url.Values
	Headers map[string]string // extra headers participating in signing, e.g. content-type
	Payload []byte
	Region  string
	Service string
	Time    time.Time
}

// Signed carries the derived authorization material. The caller injects
// these into the outgoing request headers.
type Signed struct {
	Authorization string
	AmzDate       string
	ContentSHA256 string
	SignedHeaders string
	SessionToken  string
}

// Sign computes the signature for req with the standard canonicalization:
// canonical URI with colon escaping, lexicographically ordered query
// parameters, lowercased and trimmed headers, and a hex SHA-256 payload hash.
func Sign(req Request, creds Credentials) Signed {
	amzDate := req.Time.UTC().Format(timeFormat)
	shortDate := req.Time.UTC().Format(dateFormat)
	payloadHash := hexSHA256(req.Payload)

	headers := map[string]string{
		"host":       req.Host,
		"x-amz-date": amzDate,
	}
	if creds.SessionToken != "" {
		headers["x-amz-security-token"] = creds.SessionToken
	}
	for k, v := range req.Headers {
		headers[strings.ToLower(k)] = strings.TrimSpace(v)
	}

	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)

	var canonicalHeaders strings.Builder
	for _, name := range names {
		canonicalHeaders.WriteString(name)
		canonicalHeaders.WriteByte(':')
		canonicalHeaders.WriteString(headers[name])
		canonicalHeaders.WriteByte('\n')
	}
	signedHeaders := strings.Join(names, ";")

	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI(req.Path),
		canonicalQuery(req.Query),
		canonicalHeaders.String(),
		signedHeaders,
		payloadHash,
	}, "\n")

	scope := strings.Join([]string{shortDate, req.Region, req.Service, "aws4_request"}, "/")
	stringToSign := strings.Join([]string{
		algorithm,
		amzDate,
		scope,
		hexSHA256([]byte(canonicalRequest)),
	}, "\n")

	key := deriveKey(creds.SecretAccessKey, shortDate, req.Region, req.Service)
	signature := hex.EncodeToString(hmacSHA256(key, stringToSign))

	authorization := algorithm +
		" Credential=" + creds.AccessKeyID + "/" + scope +
		", SignedHeaders=" + signedHeaders +
		", Signature=" + signature

	return Signed{
		Authorization: authorization,
		AmzDate:       amzDate,
		ContentSHA256: payloadHash,
		SignedHeaders: signedHeaders,
		SessionToken:  creds.SessionToken,
	}
}

// deriveKey is the fixed four-step HMAC chain:
// AWS4<secret> -> date -> region -> service -> aws4_request.
func deriveKey(secret, date, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), date)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, "aws4_request")
}

// canonicalURI escapes each path segment, keeping '/' separators. Colons
// must be escaped (%3A), which url.PathEscape does not do.
func canonicalURI(path string) string {
	if path == "" {
		return "/"
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = uriEscape(seg)
	}
	return strings.Join(segments, "/")
}

// canonicalQuery sorts parameters lexicographically by key, then value.
func canonicalQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		values := append([]string(nil), query[k]...)
		sort.Strings(values)
		for _, v := range values {
			parts = append(parts, uriEscape(k)+"="+uriEscape(v))
		}
	}
	return strings.Join(parts, "&")
}

// uriEscape implements the AWS URI escaping rules: unreserved characters
// pass through, everything else becomes uppercase percent-encoded octets.
func uriEscape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteString(strings.ToUpper(hex.EncodeToString([]byte{c})))
		}
	}
	return b.String()
}

// PayloadHash returns the hex SHA-256 of a request body, for callers that
// send an x-amz-content-sha256 header alongside the signature.
func PayloadHash(data []byte) string {
	return hexSHA256(data)
}

func hexSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, msg string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

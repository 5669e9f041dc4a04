package sigv4

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// The AWS reference vector: GET iam.amazonaws.com/?Action=ListUsers with the
// documented example credentials and timestamp.
func TestSign_AWSReferenceVector(t *testing.T) {
	req := Request{
		Method: "GET",
		Host:   "iam.amazonaws.com",
		Path:   "/",
		Query: url.Values{
			"Action":  []string{"ListUsers"},
			"Version": []string{"2010-05-08"},
		},
		Headers: map[string]string{
			"Content-Type": "application/x-www-form-urlencoded; charset=utf-8",
		},
		Region:  "us-east-1",
		Service: "iam",
		Time:    time.Date(2015, 8, 30, 12, 36, 0, 0, time.UTC),
	}
	creds := Credentials{
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY",
	}

	signed := Sign(req, creds)

	assert.Equal(t, "20150830T123600Z", signed.AmzDate)
	assert.Equal(t, "content-type;host;x-amz-date", signed.SignedHeaders)
	assert.Equal(t,
		"AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20150830/us-east-1/iam/aws4_request, "+
			"SignedHeaders=content-type;host;x-amz-date, "+
			"Signature=5d672d79c15b13162d9279b0855cfba6789a8edb4c82c400e06b5924a6f2b5d7",
		signed.Authorization)
}

func TestSign_Deterministic(t *testing.T) {
	req := Request{
		Method:  "POST",
		Host:    "bedrock-runtime.us-east-1.amazonaws.com",
		Path:    "/model/m/converse",
		Headers: map[string]string{"Content-Type": "application/json"},
		Payload: []byte("{}"),
		Region:  "us-east-1",
		Service: "bedrock",
		Time:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	creds := Credentials{AccessKeyID: "AKIDEXAMPLE", SecretAccessKey: "wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY"}

	a := Sign(req, creds)
	b := Sign(req, creds)
	assert.Equal(t, a, b)
	assert.Equal(t, "20240101T000000Z", a.AmzDate)
	assert.Contains(t, a.Authorization, "Credential=AKIDEXAMPLE/20240101/us-east-1/bedrock/aws4_request")

	// Any input change must change the signature.
	req2 := req
	req2.Payload = []byte(`{"a":1}`)
	assert.NotEqual(t, a.Authorization, Sign(req2, creds).Authorization)
}

func TestSign_SessionTokenJoinsSignedHeaders(t *testing.T) {
	req := Request{
		Method:  "POST",
		Host:    "polly.us-east-1.amazonaws.com",
		Path:    "/v1/speech",
		Region:  "us-east-1",
		Service: "polly",
		Time:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	signed := Sign(req, Credentials{AccessKeyID: "AK", SecretAccessKey: "SK", SessionToken: "tok"})
	assert.Equal(t, "host;x-amz-date;x-amz-security-token", signed.SignedHeaders)
	assert.Equal(t, "tok", signed.SessionToken)
}

func TestCanonicalURI(t *testing.T) {
	assert.Equal(t, "/", canonicalURI(""))
	assert.Equal(t, "/model/m/converse", canonicalURI("/model/m/converse"))
	// Colons must be escaped.
	assert.Equal(t, "/model/anthropic.claude%3A1/invoke", canonicalURI("/model/anthropic.claude:1/invoke"))
	assert.Equal(t, "/a%20b", canonicalURI("/a b"))
}

func TestCanonicalQuery_LexicographicOrder(t *testing.T) {
	q := url.Values{}
	q.Set("zeta", "1")
	q.Set("alpha", "2")
	q.Add("alpha", "1")
	assert.Equal(t, "alpha=1&alpha=2&zeta=1", canonicalQuery(q))
	assert.Equal(t, "", canonicalQuery(nil))
}

func TestPayloadHash_EmptyBody(t *testing.T) {
	// SHA-256 of the empty string, a fixed constant in the SigV4 spec.
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		PayloadHash(nil))
}

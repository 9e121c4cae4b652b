package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/url"
	"sort"
	"strings"
)

// Parameter names that are never part of the signed content.
const (
	FieldSignature = "signature"
	FieldAlgorithm = "signature_algorithm"
)

var (
	ErrMissingSignature  = errors.New("signature: missing signature field")
	ErrSignatureMismatch = errors.New("signature: signature mismatch")
)

// componentEscaper turns url.QueryEscape output into encodeURIComponent output,
// which is what the gateway signs over.
var componentEscaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

func escape(s string) string {
	return componentEscaper.Replace(url.QueryEscape(s))
}

// Canonical returns the sorted key=value string the signature is computed over.
func Canonical(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == FieldSignature || k == FieldAlgorithm {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// Compute signs params with secret. The canonical string is escaped before
// hashing and the base64 digest is escaped again.
func Compute(params map[string]string, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(escape(Canonical(params))))
	digest := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return escape(digest)
}

// Verify checks the signature carried in params. The received value may be the
// escaped digest or its single URL-decoding.
func Verify(params map[string]string, secret string) error {
	received := params[FieldSignature]
	if received == "" {
		return ErrMissingSignature
	}

	computed := Compute(params, secret)
	candidates := []string{computed}
	if decoded, err := url.PathUnescape(computed); err == nil {
		candidates = append(candidates, decoded)
	}

	presented := []string{received}
	if decoded, err := url.PathUnescape(received); err == nil && decoded != received {
		presented = append(presented, decoded)
	}

	for _, p := range presented {
		for _, c := range candidates {
			if hmac.Equal([]byte(p), []byte(c)) {
				return nil
			}
		}
	}
	return ErrSignatureMismatch
}

// Valid reports whether params carry a correct signature for secret.
func Valid(params map[string]string, secret string) bool {
	return Verify(params, secret) == nil
}

// Sign returns a copy of params with the signature fields populated.
func Sign(params map[string]string, secret string) map[string]string {
	signed := make(map[string]string, len(params)+2)
	for k, v := range params {
		signed[k] = v
	}
	signed[FieldSignature] = Compute(params, secret)
	signed[FieldAlgorithm] = "HMAC-SHA256"
	return signed
}

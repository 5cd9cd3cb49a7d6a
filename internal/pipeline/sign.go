package pipeline

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // the wire format mandates HMAC-SHA1, matching the original service
	"encoding/base64"
	"net/url"

	"imaginator/internal/ierr"
)

// signatureLen is the length, in base64url characters, of a 20-byte
// HMAC-SHA1 digest encoded with padding (27 characters plus one '=').
const signatureLen = 28

// SplitSignature reports whether decoded begins with a 28-char base64url
// signature followed by '/', returning the signature and the remainder.
func SplitSignature(decoded string) (sig string, rest string, has bool) {
	if len(decoded) <= signatureLen || decoded[signatureLen] != '/' {
		return "", decoded, false
	}
	candidate := decoded[:signatureLen]
	if _, err := base64.URLEncoding.DecodeString(candidate); err != nil {
		return "", decoded, false
	}
	return candidate, decoded[signatureLen+1:], true
}

// VerifySignature checks sig against HMAC-SHA1(secret, rest) using a
// constant-time comparison. A nil/empty secret means signing is disabled
// and every request is accepted.
func VerifySignature(secret []byte, sig string, rest string) bool {
	if len(secret) == 0 {
		return true
	}
	decoded, err := base64.URLEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha1.New, secret)
	mac.Write([]byte(rest))
	return hmac.Equal(decoded, mac.Sum(nil))
}

// ParseURL percent-decodes raw, verifies an optional leading signature
// against secret, and parses the remaining pipeline. secret == nil
// disables signature verification entirely.
func ParseURL(secret []byte, raw string) (f *Filter, trailing string, err error) {
	decoded, derr := url.PathUnescape(raw)
	if derr != nil {
		return nil, "", ierr.Wrap(ierr.KindParseError, derr, "url decoding error")
	}
	sig, rest, has := SplitSignature(decoded)
	if len(secret) > 0 && !has {
		return nil, "", ierr.New(ierr.KindInvalidSignature, "missing signature")
	}
	body := decoded
	if has {
		if !VerifySignature(secret, sig, rest) {
			return nil, "", ierr.New(ierr.KindInvalidSignature, "invalid signature")
		}
		body = rest
	}
	return Parse(body)
}

package utils

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// GenerateID generates a random UUID string
func GenerateID() string {
	return uuid.NewString()
}

// ComputeSignature returns the base64 HMAC-SHA1 digest a provider attaches
// to a callback: the full callback URL followed by every form parameter,
// sorted by name, as name+value.
func ComputeSignature(secret, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidSignature reports whether signature matches the expected digest.
func ValidSignature(secret, fullURL string, params url.Values, signature string) bool {
	if signature == "" {
		return false
	}
	expected := ComputeSignature(secret, fullURL, params)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// ConstantTimeEqual compares two secrets in constant time for equal
// lengths.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// DedupeKey builds the deterministic key used to suppress repeated dispatch
// for the same source event.
func DedupeKey(kind, tenantID, externalEventID string) string {
	return fmt.Sprintf("%s:%s:%s", kind, tenantID, externalEventID)
}

// NormalizeAddress strips channel prefixes and whitespace from a phone
// address so "whatsapp:+1 555 0100" and "+15550100" compare equal.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if i := strings.Index(address, ":"); i >= 0 {
		address = address[i+1:]
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, address)
}

// Package hashing normalizes and SHA-256 hashes contact fields for
// enhanced conversions. No plaintext contact data ever leaves the
// process.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

var gmailDomains = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
}

func sha256Hex(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// NormalizeAndHashEmail lowercases and trims an email address, strips
// dots and plus-suffixes from Gmail usernames, and returns the SHA-256
// hex digest. Returns "" for empty or malformed input.
func NormalizeAndHashEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}

	local, domain, found := strings.Cut(email, "@")
	if !found || local == "" || domain == "" {
		return ""
	}

	if gmailDomains[domain] {
		local, _, _ = strings.Cut(local, "+")
		local = strings.ReplaceAll(local, ".", "")
	}

	return sha256Hex(local + "@" + domain)
}

// NormalizeAndHashName trims and lowercases a first or last name and
// returns the SHA-256 hex digest. Returns "" for empty input.
func NormalizeAndHashName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ""
	}
	return sha256Hex(name)
}

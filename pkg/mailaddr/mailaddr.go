// Package mailaddr provides parsing of email sender and recipient fields.
package mailaddr

import (
	"net/mail"
	"regexp"
	"strings"
)

var tenantLocalPart = regexp.MustCompile(`^org_([0-9a-fA-F-]{36})$`)

// Parse splits a raw address field like `"Alice Jones" <alice@example.com>`
// into a normalized email and a display name. The email is lower-cased and
// trimmed; the name is empty when the field carries a bare address.
func Parse(raw string) (email, name string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ""
	}

	if addr, err := mail.ParseAddress(raw); err == nil {
		return strings.ToLower(strings.TrimSpace(addr.Address)), strings.TrimSpace(addr.Name)
	}

	// Tolerate malformed fields: take whatever sits between < and >,
	// or the whole string when no brackets are present.
	if open := strings.LastIndex(raw, "<"); open >= 0 {
		if close := strings.Index(raw[open:], ">"); close > 0 {
			email = raw[open+1 : open+close]
			name = strings.Trim(strings.TrimSpace(raw[:open]), `"`)
			return strings.ToLower(strings.TrimSpace(email)), strings.TrimSpace(name)
		}
	}
	return strings.ToLower(raw), ""
}

// Valid reports whether the string looks like a deliverable address.
func Valid(email string) bool {
	if email == "" {
		return false
	}
	_, err := mail.ParseAddress(email)
	return err == nil
}

// TenantID extracts a tenant UUID from a relay recipient whose local part
// follows the org_<uuid>@domain convention. Returns "" when the recipient
// does not match.
func TenantID(recipient string) string {
	email, _ := Parse(firstRecipient(recipient))
	at := strings.Index(email, "@")
	if at <= 0 {
		return ""
	}
	m := tenantLocalPart.FindStringSubmatch(email[:at])
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

// firstRecipient takes the first entry of a comma-separated recipient list.
func firstRecipient(field string) string {
	if i := strings.Index(field, ","); i >= 0 {
		return field[:i]
	}
	return field
}

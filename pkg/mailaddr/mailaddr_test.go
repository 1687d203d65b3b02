package mailaddr

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantEmail string
		wantName  string
	}{
		{"quoted name", `"Alice Jones" <alice@example.com>`, "alice@example.com", "Alice Jones"},
		{"unquoted name", `Bob Smith <Bob@Example.com>`, "bob@example.com", "Bob Smith"},
		{"bare address", "carol@example.com", "carol@example.com", ""},
		{"whitespace", "  dave@example.com  ", "dave@example.com", ""},
		{"uppercase", "EVE@EXAMPLE.COM", "eve@example.com", ""},
		{"empty", "", "", ""},
		{"malformed brackets", `Broken Name <frank@example.com`, "broken name <frank@example.com", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email, name := Parse(tt.raw)
			if email != tt.wantEmail {
				t.Errorf("email: expected %q, got %q", tt.wantEmail, email)
			}
			if name != tt.wantName {
				t.Errorf("name: expected %q, got %q", tt.wantName, name)
			}
		})
	}
}

func TestValid(t *testing.T) {
	if !Valid("alice@example.com") {
		t.Error("expected valid address")
	}
	if Valid("") {
		t.Error("expected empty address invalid")
	}
	if Valid("not-an-address") {
		t.Error("expected bare word invalid")
	}
}

func TestTenantID(t *testing.T) {
	tests := []struct {
		name      string
		recipient string
		want      string
	}{
		{"plain", "org_123e4567-e89b-12d3-a456-426614174000@inbound.example.com", "123e4567-e89b-12d3-a456-426614174000"},
		{"with display name", `"Support" <org_123e4567-e89b-12d3-a456-426614174000@inbound.example.com>`, "123e4567-e89b-12d3-a456-426614174000"},
		{"uppercase uuid", "org_123E4567-E89B-12D3-A456-426614174000@inbound.example.com", "123e4567-e89b-12d3-a456-426614174000"},
		{"recipient list", "org_123e4567-e89b-12d3-a456-426614174000@inbound.example.com, other@example.com", "123e4567-e89b-12d3-a456-426614174000"},
		{"no prefix", "support@example.com", ""},
		{"wrong prefix", "team_123e4567-e89b-12d3-a456-426614174000@example.com", ""},
		{"truncated uuid", "org_123e4567@example.com", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TenantID(tt.recipient); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

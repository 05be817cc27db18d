package confirm

import (
	"errors"
	"testing"
)

func TestNormalizeSubject(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"user@example.org", "user@example.org", false},
		{"  User@EXAMPLE.org ", "user@example.org", false},
		{"", "", true},
		{"no-at-sign", "", true},
		{"Display Name <user@example.org>", "", true},
		{"user@", "", true},
	}
	for _, tc := range cases {
		got, err := NormalizeSubject(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("NormalizeSubject(%q) err = %v, want ErrInvalidInput", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeSubject(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizeSubject(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizePayload(t *testing.T) {
	cases := []struct {
		name    string
		intent  Intent
		in      Payload
		want    Payload
		wantErr bool
	}{
		{
			name:   "random alias keeps only the domain",
			intent: IntentCreateAlias,
			in:     Payload{Domain: " Mail.Example.COM ", LifetimeDays: 7},
			want:   Payload{Domain: "mail.example.com"},
		},
		{
			name:    "random alias rejects a local part",
			intent:  IntentCreateAlias,
			in:      Payload{LocalPart: "x", Domain: "mail.example.com"},
			wantErr: true,
		},
		{
			name:   "chosen address lowercases both parts",
			intent: IntentCreateAliasAddress,
			in:     Payload{LocalPart: "Shopping", Domain: "Mail.Example.com"},
			want:   Payload{LocalPart: "shopping", Domain: "mail.example.com"},
		},
		{
			name:    "chosen address rejects dotted edges",
			intent:  IntentCreateAliasAddress,
			in:      Payload{LocalPart: "trailing.", Domain: "mail.example.com"},
			wantErr: true,
		},
		{
			name:    "delete requires a valid domain",
			intent:  IntentDeleteAlias,
			in:      Payload{LocalPart: "shopping", Domain: "bad_domain"},
			wantErr: true,
		},
		{
			name:   "credential lifetime defaults",
			intent: IntentIssueCredential,
			in:     Payload{},
			want:   Payload{LifetimeDays: 90},
		},
		{
			name:   "credential lifetime at the cap",
			intent: IntentIssueCredential,
			in:     Payload{LifetimeDays: 365},
			want:   Payload{LifetimeDays: 365},
		},
		{
			name:    "credential lifetime over the cap",
			intent:  IntentIssueCredential,
			in:      Payload{LifetimeDays: 366},
			wantErr: true,
		},
		{
			name:    "credential rejects alias fields",
			intent:  IntentIssueCredential,
			in:      Payload{Domain: "mail.example.com"},
			wantErr: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := normalizePayload(tc.intent, tc.in)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("err = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalizePayload: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestIntentScope(t *testing.T) {
	cases := map[Intent]Scope{
		IntentCreateAlias:        ScopeAliasCreate,
		IntentCreateAliasAddress: ScopeAliasCreate,
		IntentDeleteAlias:        ScopeAliasDelete,
		IntentIssueCredential:    ScopeCredential,
	}
	for intent, want := range cases {
		if got := intent.Scope(); got != want {
			t.Errorf("%s.Scope() = %s, want %s", intent, got, want)
		}
	}
}

func TestParseIntent(t *testing.T) {
	for _, s := range []string{"create_alias", "create_alias_address", "delete_alias", "issue_credential"} {
		if _, err := ParseIntent(s); err != nil {
			t.Errorf("ParseIntent(%q): %v", s, err)
		}
	}
	if _, err := ParseIntent("mint_money"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("ParseIntent(bogus) err = %v, want ErrInvalidInput", err)
	}
}

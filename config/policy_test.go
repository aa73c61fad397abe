package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseAmount_AcceptsFormattedStrings(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"1000", "1000"},
		{"1,000", "1000"},
		{"ARS 10,800", "10800"},
		{"ARS -20,000", "-20000"},
		{"  $ 1,234.50  ", "1234.5"},
		{"AR$5000", "5000"},
	}
	for _, tc := range cases {
		d, err := ParseAmount(tc.in)
		if err != nil {
			t.Fatalf("ParseAmount(%q) error: %v", tc.in, err)
		}
		if d.String() != tc.expected {
			t.Fatalf("ParseAmount(%q) expected %s, got %s", tc.in, tc.expected, d.String())
		}
	}
}

func TestParseAmount_RejectsEmpty(t *testing.T) {
	for _, in := range []string{"", "ARS", "  "} {
		if _, err := ParseAmount(in); err == nil {
			t.Fatalf("ParseAmount(%q) expected error", in)
		}
	}
}

func TestLoadPolicy_Defaults(t *testing.T) {
	p, err := LoadPolicy("")
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if !p.MinimumCommission.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("minimum commission = %s", p.MinimumCommission)
	}
	if !p.DefaultRate.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("default rate = %s", p.DefaultRate)
	}
	if p.PairingCodeTTL != 72*time.Hour {
		t.Fatalf("pairing ttl = %s", p.PairingCodeTTL)
	}
	if p.ExtensionCommission != ExtensionCommissionNone || p.TaskClaimRejection != TaskClaimRejectionManual {
		t.Fatalf("unexpected policy toggles: %+v", p)
	}
}

func TestLoadPolicy_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	body := `
currency: ARS
commission:
  default_rate: "10"
  minimum_commission: "ARS 1,500"
pairing:
  code_ttl: 48h
extension:
  commission: delta
task_claim:
  rejection: auto_dispute
price_change:
  min_notes_length: 20
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	t.Setenv("MINIMUM_CONTRACT_AMOUNT", "7,000")

	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if !p.DefaultRate.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("default rate = %s", p.DefaultRate)
	}
	if !p.MinimumCommission.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("minimum commission = %s", p.MinimumCommission)
	}
	if !p.MinimumContractAmount.Equal(decimal.NewFromInt(7000)) {
		t.Fatalf("minimum contract amount = %s", p.MinimumContractAmount)
	}
	if p.PairingCodeTTL != 48*time.Hour {
		t.Fatalf("pairing ttl = %s", p.PairingCodeTTL)
	}
	if p.ExtensionCommission != ExtensionCommissionDelta {
		t.Fatalf("extension commission = %s", p.ExtensionCommission)
	}
	if p.TaskClaimRejection != TaskClaimRejectionAutoDispute {
		t.Fatalf("task claim rejection = %s", p.TaskClaimRejection)
	}
	if p.MinModificationNotes != 20 {
		t.Fatalf("min notes = %d", p.MinModificationNotes)
	}
	// untouched values keep their defaults
	if !p.ProRate.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("pro rate = %s", p.ProRate)
	}
}

func TestLoadPolicy_RejectsUnknownToggle(t *testing.T) {
	t.Setenv("EXTENSION_COMMISSION_POLICY", "sometimes")
	if _, err := LoadPolicy(""); err == nil {
		t.Fatalf("expected error for unknown extension policy")
	}
}

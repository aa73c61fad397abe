package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	ExtensionCommissionNone  = "none"
	ExtensionCommissionDelta = "delta"

	TaskClaimRejectionManual      = "manual"
	TaskClaimRejectionAutoDispute = "auto_dispute"
)

// ContractPolicy holds every commercial constant and timing window used by the
// contract state machine. Rates are percentages (8 means 8%).
type ContractPolicy struct {
	Currency string

	DefaultRate    decimal.Decimal
	ProRate        decimal.Decimal
	SuperProRate   decimal.Decimal
	FamilyPlanRate decimal.Decimal

	MinimumCommission     decimal.Decimal
	MinimumContractAmount decimal.Decimal

	PairingCodeTTL     time.Duration
	PairingLeadTime    time.Duration
	CancellationNotice time.Duration
	ExtensionCutoff    time.Duration
	TaskClaimTTL       time.Duration

	MinModificationNotes int

	ExtensionCommission string
	TaskClaimRejection  string
}

func DefaultContractPolicy() ContractPolicy {
	return ContractPolicy{
		Currency:              "ARS",
		DefaultRate:           decimal.NewFromInt(8),
		ProRate:               decimal.NewFromInt(3),
		SuperProRate:          decimal.NewFromInt(2),
		FamilyPlanRate:        decimal.Zero,
		MinimumCommission:     decimal.NewFromInt(1000),
		MinimumContractAmount: decimal.NewFromInt(5000),
		PairingCodeTTL:        72 * time.Hour,
		PairingLeadTime:       24 * time.Hour,
		CancellationNotice:    48 * time.Hour,
		ExtensionCutoff:       24 * time.Hour,
		TaskClaimTTL:          72 * time.Hour,
		MinModificationNotes:  10,
		ExtensionCommission:   ExtensionCommissionNone,
		TaskClaimRejection:    TaskClaimRejectionManual,
	}
}

// policyFile mirrors the YAML layout. Amounts and durations are strings so
// formatted values like "ARS 1,000" and "72h" are accepted.
type policyFile struct {
	Currency   string `yaml:"currency"`
	Commission struct {
		DefaultRate           string `yaml:"default_rate"`
		ProRate               string `yaml:"pro_rate"`
		SuperProRate          string `yaml:"super_pro_rate"`
		FamilyPlanRate        string `yaml:"family_plan_rate"`
		MinimumCommission     string `yaml:"minimum_commission"`
		MinimumContractAmount string `yaml:"minimum_contract_amount"`
	} `yaml:"commission"`
	Pairing struct {
		CodeTTL  string `yaml:"code_ttl"`
		LeadTime string `yaml:"lead_time"`
	} `yaml:"pairing"`
	CancellationNotice string `yaml:"cancellation_notice"`
	Extension          struct {
		Cutoff     string `yaml:"cutoff"`
		Commission string `yaml:"commission"`
	} `yaml:"extension"`
	TaskClaim struct {
		TTL       string `yaml:"ttl"`
		Rejection string `yaml:"rejection"`
	} `yaml:"task_claim"`
	PriceChange struct {
		MinNotesLength int `yaml:"min_notes_length"`
	} `yaml:"price_change"`
}

var (
	policy     = DefaultContractPolicy()
	policyOnce sync.Once
	policyMu   sync.RWMutex
)

// GetPolicy returns the active contract policy, loading it on first use from
// CONTRACT_POLICY_FILE and environment overrides.
func GetPolicy() ContractPolicy {
	policyOnce.Do(func() {
		p, err := LoadPolicy(os.Getenv("CONTRACT_POLICY_FILE"))
		if err != nil {
			LogError(GetLogger(), "config", "GetPolicy", "LoadPolicy", nil, err)
			return
		}
		policyMu.Lock()
		policy = p
		policyMu.Unlock()
	})
	policyMu.RLock()
	defer policyMu.RUnlock()
	return policy
}

// SetPolicy overrides the active policy.
func SetPolicy(p ContractPolicy) {
	policyOnce.Do(func() {})
	policyMu.Lock()
	policy = p
	policyMu.Unlock()
}

// LoadPolicy builds a policy from defaults, then the optional YAML file, then env.
func LoadPolicy(path string) (ContractPolicy, error) {
	p := DefaultContractPolicy()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return p, fmt.Errorf("read policy file: %w", err)
		}
		var f policyFile
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return p, fmt.Errorf("parse policy file: %w", err)
		}
		if err := f.applyTo(&p); err != nil {
			return p, err
		}
	}
	if err := applyPolicyEnv(&p); err != nil {
		return p, err
	}
	return p, p.Validate()
}

func (f policyFile) applyTo(p *ContractPolicy) error {
	if f.Currency != "" {
		p.Currency = f.Currency
	}
	amounts := []struct {
		raw string
		dst *decimal.Decimal
	}{
		{f.Commission.DefaultRate, &p.DefaultRate},
		{f.Commission.ProRate, &p.ProRate},
		{f.Commission.SuperProRate, &p.SuperProRate},
		{f.Commission.FamilyPlanRate, &p.FamilyPlanRate},
		{f.Commission.MinimumCommission, &p.MinimumCommission},
		{f.Commission.MinimumContractAmount, &p.MinimumContractAmount},
	}
	for _, a := range amounts {
		if err := setAmount(a.raw, a.dst); err != nil {
			return err
		}
	}
	durations := []struct {
		raw string
		dst *time.Duration
	}{
		{f.Pairing.CodeTTL, &p.PairingCodeTTL},
		{f.Pairing.LeadTime, &p.PairingLeadTime},
		{f.CancellationNotice, &p.CancellationNotice},
		{f.Extension.Cutoff, &p.ExtensionCutoff},
		{f.TaskClaim.TTL, &p.TaskClaimTTL},
	}
	for _, d := range durations {
		if err := setDuration(d.raw, d.dst); err != nil {
			return err
		}
	}
	if f.Extension.Commission != "" {
		p.ExtensionCommission = strings.ToLower(f.Extension.Commission)
	}
	if f.TaskClaim.Rejection != "" {
		p.TaskClaimRejection = strings.ToLower(f.TaskClaim.Rejection)
	}
	if f.PriceChange.MinNotesLength > 0 {
		p.MinModificationNotes = f.PriceChange.MinNotesLength
	}
	return nil
}

func applyPolicyEnv(p *ContractPolicy) error {
	amounts := map[string]*decimal.Decimal{
		"COMMISSION_DEFAULT_RATE":   &p.DefaultRate,
		"COMMISSION_PRO_RATE":       &p.ProRate,
		"COMMISSION_SUPER_PRO_RATE": &p.SuperProRate,
		"MINIMUM_COMMISSION":        &p.MinimumCommission,
		"MINIMUM_CONTRACT_AMOUNT":   &p.MinimumContractAmount,
	}
	for key, dst := range amounts {
		if err := setAmount(os.Getenv(key), dst); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	durations := map[string]*time.Duration{
		"PAIRING_CODE_TTL":    &p.PairingCodeTTL,
		"CANCELLATION_NOTICE": &p.CancellationNotice,
		"TASK_CLAIM_TTL":      &p.TaskClaimTTL,
	}
	for key, dst := range durations {
		if err := setDuration(os.Getenv(key), dst); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if v := strings.TrimSpace(os.Getenv("EXTENSION_COMMISSION_POLICY")); v != "" {
		p.ExtensionCommission = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("TASK_CLAIM_REJECTION_POLICY")); v != "" {
		p.TaskClaimRejection = strings.ToLower(v)
	}
	return nil
}

func (p ContractPolicy) Validate() error {
	switch p.ExtensionCommission {
	case ExtensionCommissionNone, ExtensionCommissionDelta:
	default:
		return fmt.Errorf("unknown extension commission policy %q", p.ExtensionCommission)
	}
	switch p.TaskClaimRejection {
	case TaskClaimRejectionManual, TaskClaimRejectionAutoDispute:
	default:
		return fmt.Errorf("unknown task claim rejection policy %q", p.TaskClaimRejection)
	}
	if p.MinimumCommission.IsNegative() || p.MinimumContractAmount.IsNegative() {
		return fmt.Errorf("minimum amounts must not be negative")
	}
	if p.PairingCodeTTL <= 0 {
		return fmt.Errorf("pairing code ttl must be positive")
	}
	return nil
}

func setAmount(raw string, dst *decimal.Decimal) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	v, err := ParseAmount(raw)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func setDuration(raw string, dst *time.Duration) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

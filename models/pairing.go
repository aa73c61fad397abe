package models

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"strings"
)

const (
	pairingAlphabet   = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	pairingCodeLength = 10
)

// newPairingCode draws from a 32-symbol alphabet, so masking a random byte is unbiased.
func newPairingCode() (string, error) {
	buf := make([]byte, pairingCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = pairingAlphabet[int(b)&(len(pairingAlphabet)-1)]
	}
	return string(buf), nil
}

// GeneratePairingCode returns the live pairing code, issuing a new one when none
// exists or the last one expired. A new code resets both pairing confirmations.
func GeneratePairingCode(ctx context.Context, contractID, actorID int) (*Contract, string, error) {
	var code string
	c, err := withContractLock(ctx, contractID, actorID, "generate_pairing_code", func(m *mutation) error {
		c := m.contract
		if err := c.requireStatus(ContractStatusAccepted); err != nil {
			return err
		}
		if !c.TermsAcceptedByClient || !c.TermsAcceptedByDoer {
			return ErrPairingNotAvailable
		}
		opensAt := c.StartDate.Add(-m.policy.PairingLeadTime)
		if m.now.Before(opensAt) {
			return ErrPairingNotAvailable.WithMessage("the pairing code becomes available at %s", opensAt.Format("2006-01-02 15:04 MST"))
		}
		if c.PairingCode != nil && c.PairingExpiry != nil && !m.now.After(*c.PairingExpiry) {
			code = *c.PairingCode
			m.skipSave = true
			return nil
		}

		fresh, err := newPairingCode()
		if err != nil {
			return err
		}
		ts := m.now
		expiry := ts.Add(m.policy.PairingCodeTTL)
		c.PairingCode = &fresh
		c.PairingGeneratedAt = &ts
		c.PairingExpiry = &expiry
		resetConfirmation(c, pairingPair)
		code = fresh
		m.notify(ActionPairingGenerated, map[string]any{"expires_at": expiry})
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return c, code, nil
}

// ConfirmPairing checks one party's code. Both confirmations start the work.
func ConfirmPairing(ctx context.Context, contractID, actorID int, code string) (*Contract, error) {
	return withContractLock(ctx, contractID, actorID, "confirm_pairing", func(m *mutation) error {
		c := m.contract
		if err := c.requireStatus(ContractStatusAccepted); err != nil {
			return err
		}
		if c.PairingCode == nil || c.PairingExpiry == nil {
			return ErrPairingCodeMissing
		}
		if (actorID == c.ClientID && c.ClientConfirmedPairing) || (actorID == c.DoerID && c.DoerConfirmedPairing) {
			return ErrAlreadyConfirmedPairing
		}
		if m.now.After(*c.PairingExpiry) {
			return ErrPairingExpired
		}
		submitted := strings.ToUpper(strings.TrimSpace(code))
		if subtle.ConstantTimeCompare([]byte(submitted), []byte(*c.PairingCode)) != 1 {
			return ErrInvalidPairingCode
		}

		both, err := confirm(c, actorID, pairingPair, m.now)
		if err != nil {
			return err
		}
		m.notify(ActionPairingConfirmed, nil)
		if !both {
			return nil
		}

		m.transition(ContractStatusInProgress)
		ts := m.now
		c.ActualStartDate = &ts
		if err := updateJob(m.tx, c.JobID, map[string]interface{}{"status": JobStatusInProgress}); err != nil {
			return err
		}
		m.notify(ActionStarted, nil)
		return nil
	})
}

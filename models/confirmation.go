package models

import "time"

// confirmationSide points at one party's flag and its timestamp.
type confirmationSide func(c *Contract) (flag *bool, at **time.Time)

// confirmationPair names the two flags of one dual-confirmation step.
type confirmationPair struct {
	name    string
	already *ContractError
	client  confirmationSide
	doer    confirmationSide
}

var acceptancePair = confirmationPair{
	name:    "acceptance",
	already: ErrAlreadyAccepted,
	client: func(c *Contract) (*bool, **time.Time) {
		return &c.TermsAcceptedByClient, &c.TermsAcceptedByClientAt
	},
	doer: func(c *Contract) (*bool, **time.Time) {
		return &c.TermsAcceptedByDoer, &c.TermsAcceptedByDoerAt
	},
}

var pairingPair = confirmationPair{
	name:    "pairing",
	already: ErrAlreadyConfirmedPairing,
	client: func(c *Contract) (*bool, **time.Time) {
		return &c.ClientConfirmedPairing, &c.ClientConfirmedPairingAt
	},
	doer: func(c *Contract) (*bool, **time.Time) {
		return &c.DoerConfirmedPairing, &c.DoerConfirmedPairingAt
	},
}

var completionPair = confirmationPair{
	name:    "completion",
	already: ErrAlreadyConfirmed,
	client: func(c *Contract) (*bool, **time.Time) {
		return &c.ClientConfirmed, &c.ClientConfirmedAt
	},
	doer: func(c *Contract) (*bool, **time.Time) {
		return &c.DoerConfirmed, &c.DoerConfirmedAt
	},
}

// priceChangePair requires a pending modification; callers check that first.
var priceChangePair = confirmationPair{
	name:    "price_change",
	already: ErrAlreadyApproved,
	client: func(c *Contract) (*bool, **time.Time) {
		return &c.PendingModification.ClientApproved, &c.PendingModification.ClientApprovedAt
	},
	doer: func(c *Contract) (*bool, **time.Time) {
		return &c.PendingModification.DoerApproved, &c.PendingModification.DoerApprovedAt
	},
}

// confirm sets the actor's flag and reports whether both flags are now set.
// It must run on a contract read under the row lock so the check and the
// write are one atomic step.
func confirm(c *Contract, actorID int, pair confirmationPair, at time.Time) (bool, error) {
	var side confirmationSide
	switch actorID {
	case c.ClientID:
		side = pair.client
	case c.DoerID:
		side = pair.doer
	default:
		return false, ErrNotParticipant
	}
	flag, ts := side(c)
	if *flag {
		return false, pair.already
	}
	*flag = true
	t := at
	*ts = &t

	clientFlag, _ := pair.client(c)
	doerFlag, _ := pair.doer(c)
	return *clientFlag && *doerFlag, nil
}

// resetConfirmation clears both flags of a pair.
func resetConfirmation(c *Contract, pair confirmationPair) {
	for _, side := range []confirmationSide{pair.client, pair.doer} {
		flag, ts := side(c)
		*flag = false
		*ts = nil
	}
}

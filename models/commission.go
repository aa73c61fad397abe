package models

import (
	"context"

	"github.com/mmdatafocus/contracts_backend/config"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CommissionInput is everything the calculator needs to know about the payer.
type CommissionInput struct {
	Price          decimal.Decimal
	FamilyPlan     bool
	MembershipTier MembershipTier
	// CurrentRate is an upstream-resolved percentage used instead of the default rate.
	CurrentRate decimal.NullDecimal
	FreeGrant   FreeContractSource
}

type CommissionResult struct {
	Rate       decimal.Decimal    `json:"rate"`
	Commission decimal.Decimal    `json:"commission"`
	Total      decimal.Decimal    `json:"total"`
	Free       FreeContractSource `json:"free_contract_source"`
	FloorHit   bool               `json:"floor_applied"`
}

// ResolveCommissionRate applies the tier precedence: family plan, super pro, pro, then
// the caller-supplied rate or the default.
func ResolveCommissionRate(p config.ContractPolicy, in CommissionInput) decimal.Decimal {
	switch {
	case in.FamilyPlan:
		return p.FamilyPlanRate
	case in.MembershipTier == MembershipSuperPro:
		return p.SuperProRate
	case in.MembershipTier == MembershipPro:
		return p.ProRate
	case in.CurrentRate.Valid:
		return in.CurrentRate.Decimal
	default:
		return p.DefaultRate
	}
}

// CalculateCommission returns commission and total for a price. Free grants and zero
// rates bypass the floor; every other commission is at least MinimumCommission.
func CalculateCommission(p config.ContractPolicy, in CommissionInput) CommissionResult {
	if in.FreeGrant != FreeContractNone {
		return CommissionResult{Rate: decimal.Zero, Commission: decimal.Zero, Total: in.Price, Free: in.FreeGrant}
	}
	rate := ResolveCommissionRate(p, in)
	if rate.IsZero() {
		res := CommissionResult{Rate: rate, Commission: decimal.Zero, Total: in.Price}
		if in.FamilyPlan {
			res.Free = FreeContractFamilyPlan
		}
		return res
	}
	commission := in.Price.Mul(rate).Div(hundred).Round(2)
	floorHit := false
	if commission.LessThan(p.MinimumCommission) {
		commission = p.MinimumCommission
		floorHit = true
	}
	return CommissionResult{
		Rate:       rate,
		Commission: commission,
		Total:      in.Price.Add(commission),
		FloorHit:   floorHit,
	}
}

// CommissionOnDelta prices an adjustment at the payer's current rate without the floor.
func CommissionOnDelta(p config.ContractPolicy, in CommissionInput, delta decimal.Decimal) decimal.Decimal {
	rate := ResolveCommissionRate(p, in)
	return delta.Mul(rate).Div(hundred).Round(2)
}

// ValidateContractAmount rejects prices under the configured minimum.
func ValidateContractAmount(p config.ContractPolicy, price decimal.Decimal) error {
	if price.LessThan(p.MinimumContractAmount) {
		return ErrBelowMinimum.WithMessage("the minimum contract amount is %s %s", p.MinimumContractAmount.StringFixed(0), p.Currency)
	}
	return nil
}

func commissionInputFor(u *User, price decimal.Decimal) CommissionInput {
	return CommissionInput{
		Price:          price,
		FamilyPlan:     u.FamilyPlan,
		MembershipTier: u.MembershipTier,
		CurrentRate:    u.CurrentCommissionRate,
	}
}

// QuoteCommission prices a prospective contract for a client without creating it.
func QuoteCommission(ctx context.Context, clientID int, price decimal.Decimal) (CommissionResult, error) {
	p := config.GetPolicy()
	if err := ValidateContractAmount(p, price); err != nil {
		return CommissionResult{}, err
	}
	u, err := GetUser(ctx, clientID)
	if err != nil {
		return CommissionResult{}, err
	}
	in := commissionInputFor(u, price)
	in.FreeGrant = freeGrantFor(u)
	return CalculateCommission(p, in), nil
}

package reports

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/contracts_backend/config"
	"github.com/mmdatafocus/contracts_backend/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const dateTimeLayout = "2006-01-02 15:04:05"

// StatementRange bounds a statement; Until is exclusive.
type StatementRange struct {
	From  time.Time
	Until time.Time
}

func (r StatementRange) validate() error {
	if r.From.IsZero() || r.Until.IsZero() {
		return errors.New("statement range needs both from and until")
	}
	if !r.From.Before(r.Until) {
		return errors.New("statement range from must be before until")
	}
	return nil
}

type BalanceLine struct {
	CreatedAt    time.Time       `json:"created_at"`
	Type         string          `json:"type"`
	Reason       string          `json:"reason"`
	ContractID   *int            `json:"contract_id"`
	PaymentID    *int            `json:"payment_id"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
}

func (l BalanceLine) GetCellValues() []interface{} {
	return []interface{}{
		l.CreatedAt.UTC().Format(dateTimeLayout),
		l.Type,
		l.Reason,
		intOrBlank(l.ContractID),
		intOrBlank(l.PaymentID),
		l.Amount.InexactFloat64(),
		l.BalanceAfter.InexactFloat64(),
	}
}

type EscrowLine struct {
	PaymentID   int             `json:"payment_id"`
	ContractID  int             `json:"contract_id"`
	Role        string          `json:"role"`
	Provider    string          `json:"provider"`
	Status      string          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	PlatformFee decimal.Decimal `json:"platform_fee"`
	CreatedAt   time.Time       `json:"created_at"`
	ReleasedAt  *time.Time      `json:"released_at"`
	RefundedAt  *time.Time      `json:"refunded_at"`
}

func (l EscrowLine) GetCellValues() []interface{} {
	return []interface{}{
		l.PaymentID,
		l.ContractID,
		l.Role,
		l.Provider,
		l.Status,
		l.Amount.InexactFloat64(),
		l.PlatformFee.InexactFloat64(),
		l.CreatedAt.UTC().Format(dateTimeLayout),
		timeOrBlank(l.ReleasedAt),
		timeOrBlank(l.RefundedAt),
	}
}

// EscrowStatement is a user's balance movements and escrow payments over a range.
type EscrowStatement struct {
	UserID   int             `json:"user_id"`
	UserName string          `json:"user_name"`
	Range    StatementRange  `json:"range"`
	Opening  decimal.Decimal `json:"opening_balance"`
	Closing  decimal.Decimal `json:"closing_balance"`
	Balance  []BalanceLine   `json:"balance"`
	Escrow   []EscrowLine    `json:"escrow"`
}

func GetEscrowStatement(ctx context.Context, userID int, rng StatementRange) (*EscrowStatement, error) {
	if err := rng.validate(); err != nil {
		return nil, err
	}
	user, err := models.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	db := config.GetDB().WithContext(ctx)

	var txns []models.BalanceTransaction
	if err := db.Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, rng.From, rng.Until).
		Order("created_at, id").Find(&txns).Error; err != nil {
		return nil, err
	}

	// Opening balance is the running balance after the last movement before the range.
	var prior models.BalanceTransaction
	opening := decimal.Zero
	res := db.Where("user_id = ? AND created_at < ?", userID, rng.From).
		Order("created_at DESC, id DESC").Limit(1).Find(&prior)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected > 0 {
		opening = prior.BalanceAfter
	}

	st := &EscrowStatement{
		UserID:   user.ID,
		UserName: user.Name,
		Range:    rng,
		Opening:  opening,
		Closing:  opening,
		Balance:  make([]BalanceLine, 0, len(txns)),
	}
	for _, t := range txns {
		st.Balance = append(st.Balance, BalanceLine{
			CreatedAt:    t.CreatedAt,
			Type:         string(t.Type),
			Reason:       t.Reason,
			ContractID:   t.ContractID,
			PaymentID:    t.PaymentID,
			Amount:       t.Amount,
			BalanceAfter: t.BalanceAfter,
		})
		st.Closing = t.BalanceAfter
	}

	var payments []models.Payment
	if err := db.Where("(payer_id = ? OR payee_id = ?) AND is_escrow = ? AND created_at >= ? AND created_at < ?",
		userID, userID, true, rng.From, rng.Until).
		Order("created_at, id").Find(&payments).Error; err != nil {
		return nil, err
	}
	st.Escrow = make([]EscrowLine, 0, len(payments))
	for _, p := range payments {
		role := "payee"
		if p.PayerID == userID {
			role = "payer"
		}
		st.Escrow = append(st.Escrow, EscrowLine{
			PaymentID:   p.ID,
			ContractID:  p.ContractID,
			Role:        role,
			Provider:    string(p.Provider),
			Status:      string(p.Status),
			Amount:      p.Amount,
			PlatformFee: p.PlatformFee,
			CreatedAt:   p.CreatedAt,
			ReleasedAt:  p.EscrowReleasedAt,
			RefundedAt:  p.RefundedAt,
		})
	}
	return st, nil
}

// ExportEscrowStatement renders the statement as an xlsx workbook.
func ExportEscrowStatement(st *EscrowStatement) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summary := []summaryRow{
		{"User", st.UserName},
		{"From", st.Range.From.UTC().Format(dateTimeLayout)},
		{"Until", st.Range.Until.UTC().Format(dateTimeLayout)},
		{"Opening balance", st.Opening.InexactFloat64()},
		{"Closing balance", st.Closing.InexactFloat64()},
	}
	if err := writeSheet(f, "Summary", summary, "Field", "Value"); err != nil {
		return nil, err
	}
	if err := writeSheet(f, "Balance", st.Balance,
		"Date", "Type", "Reason", "Contract", "Payment", "Amount", "Balance After"); err != nil {
		return nil, err
	}
	if err := writeSheet(f, "Escrow", st.Escrow,
		"Payment", "Contract", "Role", "Provider", "Status", "Amount", "Platform Fee", "Created", "Released", "Refunded"); err != nil {
		return nil, err
	}
	return workbookBytes(f)
}

type summaryRow struct {
	label string
	value interface{}
}

func (r summaryRow) GetCellValues() []interface{} {
	return []interface{}{r.label, r.value}
}

func intOrBlank(v *int) interface{} {
	if v == nil {
		return ""
	}
	return *v
}

func timeOrBlank(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.UTC().Format(dateTimeLayout)
}

package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var currencyLabels = []string{"ARS", "ars", "AR$", "$"}

// ParseAmount accepts user-formatted amounts such as "1,000", "ARS 1,000",
// "$ -250.50" or "AR$1000". Commas are thousands separators.
func ParseAmount(v string) (decimal.Decimal, error) {
	s := strings.TrimSpace(v)
	if s != "" {
		s = strings.ReplaceAll(s, ",", "")
		for _, label := range currencyLabels {
			s = strings.ReplaceAll(s, label, "")
		}
		s = strings.TrimSpace(s)
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	}
	var b strings.Builder
	b.Grow(len(s) + 1)
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	clean := b.String()
	if clean == "" {
		return decimal.Zero, fmt.Errorf("invalid amount %q", v)
	}
	if neg {
		clean = "-" + clean
	}
	return decimal.NewFromString(clean)
}

package stripesync

import (
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v72"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// PayPerUse is displayed for metered prices that have no unit amount.
const PayPerUse = "pay per use"

// Resolution is the presentation of a Price.
type Resolution struct {
	DisplayAmount    string
	BillingUnitCount int64
	TierSummary      string
	TierDescription  string
}

var currencySymbols = map[string]string{
	"usd": "$",
	"aud": "A$",
	"cad": "CA$",
	"eur": "€",
	"gbp": "£",
}

func formatCount(n int64) string {
	return message.NewPrinter(language.English).Sprintf("%d", n)
}

// formatMoney formats the given amount of minor units as currency. If trim is
// true then whole amounts are formatted without decimals. The amount is always
// read as hundredths, which is wrong for zero-decimal currencies such as JPY,
// so those are given no symbol and keep their code.
func formatMoney(amount int64, currency string, trim bool) string {
	sign := ""

	if amount < 0 {
		sign = "-"
		amount = -amount
	}

	s := formatCount(amount / 100)

	if cents := amount % 100; !trim || cents != 0 {
		s += fmt.Sprintf(".%02d", cents)
	}

	currency = strings.ToLower(currency)

	if currency == "" {
		currency = "usd"
	}

	if sym, ok := currencySymbols[currency]; ok {
		return sign + sym + s
	}
	return sign + s + " " + strings.ToUpper(currency)
}

func plural(label string) string {
	if strings.HasSuffix(label, "s") {
		return label
	}
	return label + "s"
}

func positive(i *int64) bool { return i != nil && *i > 0 }

func (p Price) unitLabel() string {
	if p.UnitLabel == "" {
		return "unit"
	}
	return p.UnitLabel
}

// HasTiers reports whether the Price is tiered and has tiers.
func (p Price) HasTiers() bool {
	return p.BillingScheme == stripe.PriceBillingSchemeTiered && len(p.Tiers) > 0
}

// BillingUnitCount is the number of units billed together, this is greater
// than one for package pricing.
func (p Price) BillingUnitCount() int64 {
	if p.TransformQuantity != nil && p.TransformQuantity.DivideBy > 0 {
		return p.TransformQuantity.DivideBy
	}
	return 1
}

// DisplayAmount returns the headline amount of the Price. Per unit prices are
// formatted as currency, metered prices without a unit amount are PayPerUse,
// and tiered prices use the TierSummary.
func (p Price) DisplayAmount() string {
	perUnit := p.BillingScheme == stripe.PriceBillingSchemePerUnit || p.BillingScheme == ""

	if perUnit && positive(p.UnitAmount) {
		s := formatMoney(*p.UnitAmount, p.Currency, false)

		if n := p.BillingUnitCount(); n > 1 {
			s += " per " + formatCount(n) + " " + plural(p.unitLabel())
		}
		return s
	}

	if p.Recurring != nil && p.Recurring.UsageType == stripe.PriceRecurringUsageTypeMetered {
		return PayPerUse
	}

	if p.BillingScheme == stripe.PriceBillingSchemeTiered {
		return p.TierSummary()
	}

	if p.UnitAmount != nil {
		return formatMoney(*p.UnitAmount, p.Currency, false)
	}
	return ""
}

// TierSummary returns a single headline price for a tiered Price. Only the
// first tier is considered.
func (p Price) TierSummary() string {
	if !p.HasTiers() {
		return ""
	}

	t := p.Tiers[0]

	if positive(t.FlatAmount) {
		return formatMoney(*t.FlatAmount, p.Currency, true)
	}

	if positive(t.UnitAmount) {
		return formatMoney(*t.UnitAmount, p.Currency, true) + " per " + p.unitLabel()
	}
	return "Tiered pricing"
}

// TierDescription describes every tier of the Price, joined by commas. The
// last tier has no upper bound, so has no "up to" clause.
func (p Price) TierDescription() string {
	if !p.HasTiers() {
		return ""
	}

	clauses := make([]string, 0, len(p.Tiers))

	for _, t := range p.Tiers {
		var clause string

		switch {
		case positive(t.FlatAmount):
			clause = formatMoney(*t.FlatAmount, p.Currency, false)

			if t.UpTo != nil {
				clause += " for up to " + formatCount(*t.UpTo) + " " + plural(p.unitLabel())
			}
		case positive(t.UnitAmount):
			clause = formatMoney(*t.UnitAmount, p.Currency, false) + " per " + p.unitLabel()

			if t.UpTo != nil {
				clause += " up to " + formatCount(*t.UpTo) + " " + plural(p.unitLabel())
			}
		default:
			clause = "free"

			if t.UpTo != nil {
				clause += " up to " + formatCount(*t.UpTo) + " " + plural(p.unitLabel())
			}
		}
		clauses = append(clauses, clause)
	}
	return strings.Join(clauses, ", ")
}

// Resolve resolves the presentation of the Price.
func (p Price) Resolve() Resolution {
	return Resolution{
		DisplayAmount:    p.DisplayAmount(),
		BillingUnitCount: p.BillingUnitCount(),
		TierSummary:      p.TierSummary(),
		TierDescription:  p.TierDescription(),
	}
}

package stripesync

import (
	"github.com/stripe/stripe-go/v72"
)

// paymentMethodDetails are the details of the payment method a charge was
// made with. Only the identifying details of each type are kept.
type paymentMethodDetails struct {
	Type stripe.PaymentMethodType `json:"type"`

	AUBECSDebit *struct {
		BSBNumber string `json:"bsb_number"`
		Last4     string `json:"last4"`
	} `json:"au_becs_debit"`

	BACSDebit *struct {
		Last4    string `json:"last4"`
		SortCode string `json:"sort_code"`
	} `json:"bacs_debit"`

	Card *struct {
		AuthorizationCode string                        `json:"authorization_code"`
		Brand             stripe.PaymentMethodCardBrand `json:"brand"`
		ExpMonth          int64                         `json:"exp_month"`
		ExpYear           int64                         `json:"exp_year"`
		Last4             string                        `json:"last4"`
	} `json:"card"`

	FPX *struct {
		Bank string `json:"bank"`
	} `json:"fpx"`

	Ideal *struct {
		Bank string `json:"bank"`
		Bic  string `json:"bic"`
	} `json:"ideal"`

	P24 *struct {
		Bank string `json:"bank"`
	} `json:"p24"`

	SepaDebit *struct {
		BankCode   string `json:"bank_code"`
		BranchCode string `json:"branch_code"`
		Country    string `json:"country"`
		Last4      string `json:"last4"`
	} `json:"sepa_debit"`
}

// info flattens the details of the payment method type into a map. This
// returns nil for types that have no identifying details.
func (pm paymentMethodDetails) info() map[string]interface{} {
	switch {
	case pm.Type == "au_becs_debit" && pm.AUBECSDebit != nil:
		return map[string]interface{}{
			"bsb_number": pm.AUBECSDebit.BSBNumber,
			"last4":      pm.AUBECSDebit.Last4,
		}
	case pm.Type == "bacs_debit" && pm.BACSDebit != nil:
		return map[string]interface{}{
			"last4":     pm.BACSDebit.Last4,
			"sort_code": pm.BACSDebit.SortCode,
		}
	case pm.Type == "card" && pm.Card != nil:
		return map[string]interface{}{
			"brand":     string(pm.Card.Brand),
			"exp_month": pm.Card.ExpMonth,
			"exp_year":  pm.Card.ExpYear,
			"last4":     pm.Card.Last4,
		}
	case pm.Type == "fpx" && pm.FPX != nil:
		return map[string]interface{}{
			"bank": pm.FPX.Bank,
		}
	case pm.Type == "ideal" && pm.Ideal != nil:
		return map[string]interface{}{
			"bank": pm.Ideal.Bank,
			"bic":  pm.Ideal.Bic,
		}
	case pm.Type == "p24" && pm.P24 != nil:
		return map[string]interface{}{
			"bank": pm.P24.Bank,
		}
	case pm.Type == "sepa_debit" && pm.SepaDebit != nil:
		return map[string]interface{}{
			"bank_code":   pm.SepaDebit.BankCode,
			"branch_code": pm.SepaDebit.BranchCode,
			"country":     pm.SepaDebit.Country,
			"last4":       pm.SepaDebit.Last4,
		}
	default:
		return nil
	}
}

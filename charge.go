package stripesync

import (
	"encoding/json"
	"time"
)

type charge struct {
	Amount               int64                `json:"amount"`
	AmountCaptured       *int64               `json:"amount_captured"`
	AmountRefunded       *int64               `json:"amount_refunded"`
	BalanceTransaction   expandable           `json:"balance_transaction"`
	BillingDetails       json.RawMessage      `json:"billing_details"`
	Captured             bool                 `json:"captured"`
	Created              int64                `json:"created"`
	Currency             string               `json:"currency"`
	Customer             expandable           `json:"customer"`
	Disputed             bool                 `json:"disputed"`
	FailureCode          string               `json:"failure_code"`
	FailureMessage       string               `json:"failure_message"`
	Invoice              expandable           `json:"invoice"`
	Metadata             json.RawMessage      `json:"metadata"`
	Outcome              json.RawMessage      `json:"outcome"`
	Paid                 bool                 `json:"paid"`
	PaymentIntent        expandable           `json:"payment_intent"`
	PaymentMethod        string               `json:"payment_method"`
	PaymentMethodDetails paymentMethodDetails `json:"payment_method_details"`
	ReceiptEmail         string               `json:"receipt_email"`
	ReceiptNumber        string               `json:"receipt_number"`
	ReceiptURL           string               `json:"receipt_url"`
	Refunded             bool                 `json:"refunded"`
	Status               string               `json:"status"`
}

// moneyTransaction is a v2 money management transaction. Unlike the v1 API
// the timestamps are RFC 3339 strings.
type moneyTransaction struct {
	Object string `json:"object"`
	Amount struct {
		Value    *int64 `json:"value"`
		Currency string `json:"currency"`
	} `json:"amount"`
	BalanceImpact struct {
		Available       moneyAmount `json:"available"`
		InboundPending  moneyAmount `json:"inbound_pending"`
		OutboundPending moneyAmount `json:"outbound_pending"`
	} `json:"balance_impact"`
	Category         string `json:"category"`
	Created          string `json:"created"`
	FinancialAccount string `json:"financial_account"`
	Flow             struct {
		Type             string `json:"type"`
		OutboundTransfer string `json:"outbound_transfer"`
	} `json:"flow"`
	Status            string `json:"status"`
	StatusTransitions struct {
		PostedAt string `json:"posted_at"`
		VoidAt   string `json:"void_at"`
	} `json:"status_transitions"`
}

type moneyAmount struct {
	Value    *int64 `json:"value"`
	Currency string `json:"currency"`
}

var (
	transactionTable       = "stripe_transactions"
	legacyTransactionTable = "stripe_legacy_transactions"
)

// projectCharge projects a charge into the stripe_transactions table.
func projectCharge(raw json.RawMessage, observed time.Time) (Record, error) {
	var c charge

	id, err := decode(raw, &c)

	if err != nil {
		return Record{ExternalID: id}, err
	}

	currency := c.Currency

	if currency == "" {
		currency = "usd"
	}

	return Record{
		ExternalID: id,
		Observed:   observed,
		Attrs: Attrs{
			"object_type":            "charge",
			"amount_value":           c.Amount,
			"amount_currency":        currency,
			"category":               "charge",
			"status":                 nullString(c.Status),
			"flow_type":              "charge",
			"stripe_created_at":      epoch(c.Created),
			"charge_id":              id,
			"payment_intent_id":      nullString(string(c.PaymentIntent)),
			"customer_id":            nullString(string(c.Customer)),
			"payment_method_id":      nullString(c.PaymentMethod),
			"invoice_id":             nullString(string(c.Invoice)),
			"balance_transaction_id": nullString(string(c.BalanceTransaction)),
			"amount_captured":        nullInt(c.AmountCaptured),
			"amount_refunded":        nullInt(c.AmountRefunded),
			"captured":               c.Captured,
			"disputed":               c.Disputed,
			"refunded":               c.Refunded,
			"failure_code":           nullString(c.FailureCode),
			"failure_message":        nullString(c.FailureMessage),
			"receipt_email":          nullString(c.ReceiptEmail),
			"receipt_number":         nullString(c.ReceiptNumber),
			"receipt_url":            nullString(c.ReceiptURL),
			"payment_method_type":    nullString(string(c.PaymentMethodDetails.Type)),
			"payment_method_info":    marshalBlob(c.PaymentMethodDetails.info()),
			"billing_details":        blob(c.BillingDetails),
			"outcome":                blob(c.Outcome),
			"metadata":               blob(c.Metadata),
		},
	}, nil
}

// projectLegacyCharge projects a charge into the older, card oriented shape
// kept in the stripe_legacy_transactions table.
func projectLegacyCharge(raw json.RawMessage, eventID string, observed time.Time) (Record, error) {
	var c charge

	id, err := decode(raw, &c)

	if err != nil {
		return Record{ExternalID: id}, err
	}

	attrs := Attrs{
		"event_id":            nullString(eventID),
		"transaction_id":      nullString(string(c.BalanceTransaction)),
		"invoice_id":          nullString(string(c.Invoice)),
		"customer_id":         nullString(string(c.Customer)),
		"payment_method_id":   nullString(c.PaymentMethod),
		"amount":              c.Amount,
		"transaction_date":    epoch(c.Created),
		"paid":                c.Paid,
		"payment_method_type": nullString(string(c.PaymentMethodDetails.Type)),
		"card_brand":          nil,
		"card_last4":          nil,
		"card_exp_month":      nil,
		"card_exp_year":       nil,
		"authorization_code":  nil,
		"receipt_url":         nullString(c.ReceiptURL),
		"status":              nullString(c.Status),
	}

	if card := c.PaymentMethodDetails.Card; card != nil {
		attrs["card_brand"] = nullString(string(card.Brand))
		attrs["card_last4"] = nullString(card.Last4)
		attrs["card_exp_month"] = card.ExpMonth
		attrs["card_exp_year"] = card.ExpYear
		attrs["authorization_code"] = nullString(card.AuthorizationCode)
	}

	return Record{
		ExternalID: id,
		Observed:   observed,
		Attrs:      attrs,
	}, nil
}

// projectMoneyTransaction projects a v2 money management transaction into the
// stripe_transactions table.
func projectMoneyTransaction(raw json.RawMessage, observed time.Time) (Record, error) {
	var t moneyTransaction

	id, err := decode(raw, &t)

	if err != nil {
		return Record{ExternalID: id}, err
	}

	object := t.Object

	if object == "" {
		object = "v2.money_management.transaction"
	}

	currency := t.Amount.Currency

	if currency == "" {
		currency = "usd"
	}

	var amount int64

	if t.Amount.Value != nil {
		amount = *t.Amount.Value
	}

	return Record{
		ExternalID: id,
		Observed:   observed,
		Attrs: Attrs{
			"object_type":                              object,
			"amount_value":                             amount,
			"amount_currency":                          currency,
			"balance_impact_available_value":           nullInt(t.BalanceImpact.Available.Value),
			"balance_impact_available_currency":        nullString(t.BalanceImpact.Available.Currency),
			"balance_impact_inbound_pending_value":     nullInt(t.BalanceImpact.InboundPending.Value),
			"balance_impact_inbound_pending_currency":  nullString(t.BalanceImpact.InboundPending.Currency),
			"balance_impact_outbound_pending_value":    nullInt(t.BalanceImpact.OutboundPending.Value),
			"balance_impact_outbound_pending_currency": nullString(t.BalanceImpact.OutboundPending.Currency),
			"category":                                 nullString(t.Category),
			"financial_account":                        nullString(t.FinancialAccount),
			"status":                                   nullString(t.Status),
			"flow_type":                                nullString(t.Flow.Type),
			"flow_outbound_transfer":                   nullString(t.Flow.OutboundTransfer),
			"status_transitions_posted_at":             rfc3339(t.StatusTransitions.PostedAt),
			"status_transitions_void_at":               rfc3339(t.StatusTransitions.VoidAt),
			"stripe_created_at":                        rfc3339(t.Created),
		},
	}, nil
}

package stripesync

import (
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v72"
)

type invoice struct {
	AmountDue         int64                `json:"amount_due"`
	AmountPaid        int64                `json:"amount_paid"`
	AmountRemaining   int64                `json:"amount_remaining"`
	AttemptCount      int64                `json:"attempt_count"`
	Attempted         bool                 `json:"attempted"`
	BillingReason     string               `json:"billing_reason"`
	CollectionMethod  string               `json:"collection_method"`
	Created           int64                `json:"created"`
	Currency          string               `json:"currency"`
	Customer          expandable           `json:"customer"`
	CustomerEmail     string               `json:"customer_email"`
	CustomerName      string               `json:"customer_name"`
	Description       string               `json:"description"`
	Discounts         json.RawMessage      `json:"discounts"`
	DueDate           *int64               `json:"due_date"`
	HostedInvoiceURL  string               `json:"hosted_invoice_url"`
	InvoicePDF        string               `json:"invoice_pdf"`
	Livemode          bool                 `json:"livemode"`
	Metadata          json.RawMessage      `json:"metadata"`
	Number            string               `json:"number"`
	Object            string               `json:"object"`
	Paid              bool                 `json:"paid"`
	PaymentIntent     expandable           `json:"payment_intent"`
	PeriodEnd         int64                `json:"period_end"`
	PeriodStart       int64                `json:"period_start"`
	Status            stripe.InvoiceStatus `json:"status"`
	Subscription      expandable           `json:"subscription"`
	Subtotal          int64                `json:"subtotal"`
	Total             int64                `json:"total"`
	StatusTransitions struct {
		FinalizedAt           *int64 `json:"finalized_at"`
		MarkedUncollectibleAt *int64 `json:"marked_uncollectible_at"`
		PaidAt                *int64 `json:"paid_at"`
		VoidedAt              *int64 `json:"voided_at"`
	} `json:"status_transitions"`
}

var (
	invoiceEndpoint = "/v1/invoices"
	invoiceTable    = "stripe_invoices"

	// invoiceEvents are the invoice events that are projected into the
	// stripe_invoices table.
	invoiceEvents = map[string]struct{}{
		"invoice.created":           {},
		"invoice.updated":           {},
		"invoice.finalized":         {},
		"invoice.paid":              {},
		"invoice.voided":            {},
		"invoice.payment_succeeded": {},
		"invoice.payment_failed":    {},
	}
)

func projectInvoice(raw json.RawMessage, observed time.Time) (Record, error) {
	var i invoice

	id, err := decode(raw, &i)

	if err != nil {
		return Record{ExternalID: id}, err
	}

	object := i.Object

	if object == "" {
		object = "invoice"
	}

	return Record{
		ExternalID: id,
		Observed:   observed,
		Attrs: Attrs{
			"object_type":                                object,
			"amount_due":                                 i.AmountDue,
			"amount_paid":                                i.AmountPaid,
			"amount_remaining":                           i.AmountRemaining,
			"attempt_count":                              i.AttemptCount,
			"attempted":                                  i.Attempted,
			"billing_reason":                             nullString(i.BillingReason),
			"collection_method":                          nullString(i.CollectionMethod),
			"currency":                                   i.Currency,
			"customer":                                   nullString(string(i.Customer)),
			"customer_email":                             nullString(i.CustomerEmail),
			"customer_name":                              nullString(i.CustomerName),
			"description":                                nullString(i.Description),
			"discounts":                                  blob(i.Discounts),
			"due_date":                                   epochPtr(i.DueDate),
			"hosted_invoice_url":                         nullString(i.HostedInvoiceURL),
			"invoice_pdf":                                nullString(i.InvoicePDF),
			"livemode":                                   i.Livemode,
			"metadata":                                   blob(i.Metadata),
			"number":                                     nullString(i.Number),
			"paid":                                       i.Paid,
			"payment_intent":                             nullString(string(i.PaymentIntent)),
			"period_end":                                 epoch(i.PeriodEnd),
			"period_start":                               epoch(i.PeriodStart),
			"status":                                     nullString(string(i.Status)),
			"status_transitions_finalized_at":            epochPtr(i.StatusTransitions.FinalizedAt),
			"status_transitions_marked_uncollectible_at": epochPtr(i.StatusTransitions.MarkedUncollectibleAt),
			"status_transitions_paid_at":                 epochPtr(i.StatusTransitions.PaidAt),
			"status_transitions_voided_at":               epochPtr(i.StatusTransitions.VoidedAt),
			"stripe_created_at":                          epoch(i.Created),
			"subscription":                               nullString(string(i.Subscription)),
			"subtotal":                                   i.Subtotal,
			"total":                                      i.Total,
		},
	}, nil
}

func invoiceParams(o Options) Params {
	params := Params{}

	if o.Customer != "" {
		params["customer"] = o.Customer
	}

	if o.Status != "" {
		params["status"] = o.Status
	}
	return params
}

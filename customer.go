package stripesync

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

type customer struct {
	Address             json.RawMessage `json:"address"`
	Balance             int64           `json:"balance"`
	Created             int64           `json:"created"`
	Currency            string          `json:"currency"`
	DefaultSource       expandable      `json:"default_source"`
	Deleted             bool            `json:"deleted"`
	Delinquent          *bool           `json:"delinquent"`
	Description         string          `json:"description"`
	Discount            json.RawMessage `json:"discount"`
	Email               string          `json:"email"`
	InvoicePrefix       string          `json:"invoice_prefix"`
	InvoiceSettings     json.RawMessage `json:"invoice_settings"`
	Livemode            bool            `json:"livemode"`
	Metadata            json.RawMessage `json:"metadata"`
	Name                string          `json:"name"`
	NextInvoiceSequence *int64          `json:"next_invoice_sequence"`
	Phone               string          `json:"phone"`
	PreferredLocales    json.RawMessage `json:"preferred_locales"`
	Shipping            json.RawMessage `json:"shipping"`
	TaxExempt           string          `json:"tax_exempt"`
	TestClock           expandable      `json:"test_clock"`
}

var (
	customerEndpoint = "/v1/customers"
	customerTable    = "stripe_customers"
)

func projectCustomer(raw json.RawMessage, observed time.Time) (Record, error) {
	var c customer

	id, err := decode(raw, &c)

	if err != nil {
		return Record{ExternalID: id}, err
	}

	return Record{
		ExternalID: id,
		Observed:   observed,
		Attrs: Attrs{
			"address":               blob(c.Address),
			"balance":               c.Balance,
			"created":               epoch(c.Created),
			"currency":              nullString(c.Currency),
			"default_source":        nullString(string(c.DefaultSource)),
			"delinquent":            nullBool(c.Delinquent),
			"description":           nullString(c.Description),
			"email":                 nullString(c.Email),
			"invoice_prefix":        nullString(c.InvoicePrefix),
			"invoice_settings":      blob(c.InvoiceSettings),
			"livemode":              c.Livemode,
			"metadata":              blob(c.Metadata),
			"name":                  nullString(c.Name),
			"next_invoice_sequence": nullInt(c.NextInvoiceSequence),
			"phone":                 nullString(c.Phone),
			"preferred_locales":     blob(c.PreferredLocales),
			"shipping":              blob(c.Shipping),
			"tax_exempt":            nullString(c.TaxExempt),
			"test_clock":            nullString(string(c.TestClock)),
		},
	}, nil
}

func customerParams(o Options) Params {
	params := Params{}

	if o.Email != "" {
		params["email"] = o.Email
	}

	if !o.CreatedSince.IsZero() {
		params["created"] = Params{
			"gte": o.CreatedSince.Unix(),
		}
	}
	return params
}

func customerFilter(o Options) Filter {
	if o.IncludeDeleted {
		return nil
	}

	return func(raw json.RawMessage) bool {
		var c struct {
			Deleted bool `json:"deleted"`
		}

		if err := json.Unmarshal(raw, &c); err != nil {
			return false
		}
		return !c.Deleted
	}
}

// linkUser sets the user_id of the customer to the local user with the same
// email. The email must match exactly. A customer without a matching user, or
// a failed lookup, is left unlinked.
func linkUser(ctx context.Context, s *Syncer, o Options, r *Record) {
	if o.NoLinkUsers {
		return
	}

	email, ok := r.Attrs["email"].(string)

	if !ok || email == "" {
		return
	}

	id, ok, err := s.FindOne(ctx, s.usersTable(), "email", email)

	if err != nil {
		s.log().Warn("failed to lookup user for customer",
			zap.String("external_id", r.ExternalID),
			zap.Error(err),
		)
		return
	}

	if ok {
		r.Attrs["user_id"] = id
	}
}

package stripesync

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v72"
)

// Price is the pricing shape of a Stripe price. This only carries the fields
// needed to resolve how the price is presented, the rest of the price is kept
// as is in the stripe_prices table.
type Price struct {
	ID                string                    `json:"id"`
	Active            bool                      `json:"active"`
	BillingScheme     stripe.PriceBillingScheme `json:"billing_scheme"`
	Currency          string                    `json:"currency"`
	Nickname          string                    `json:"nickname"`
	Product           expandable                `json:"product"`
	Recurring         *Recurring                `json:"recurring"`
	Tiers             []Tier                    `json:"tiers"`
	TiersMode         stripe.PriceTiersMode     `json:"tiers_mode"`
	TransformQuantity *TransformQuantity        `json:"transform_quantity"`
	Type              stripe.PriceType          `json:"type"`
	UnitAmount        *int64                    `json:"unit_amount"`

	// UnitLabel is the label of a single unit. This is taken from the price's
	// product when it is expanded, or joined in by PSQL.Price, and defaults to
	// "unit".
	UnitLabel string `json:"-"`
}

// Recurring is the recurring component of a Price.
type Recurring struct {
	Interval      stripe.PriceRecurringInterval  `json:"interval"`
	IntervalCount int64                          `json:"interval_count"`
	UsageType     stripe.PriceRecurringUsageType `json:"usage_type"`
	Meter         string                         `json:"meter"`
}

// Tier is a single quantity bracket of a tiered Price. A nil UpTo denotes the
// last, unbounded tier.
type Tier struct {
	UpTo       *int64 `json:"up_to"`
	FlatAmount *int64 `json:"flat_amount"`
	UnitAmount *int64 `json:"unit_amount"`
}

// TransformQuantity is how the quantity of a Price is transformed before it is
// billed, this is used for package pricing.
type TransformQuantity struct {
	DivideBy int64  `json:"divide_by"`
	Round    string `json:"round"`
}

type priceBlobs struct {
	CustomUnitAmount  json.RawMessage `json:"custom_unit_amount"`
	Created           int64           `json:"created"`
	Livemode          bool            `json:"livemode"`
	LookupKey         string          `json:"lookup_key"`
	Metadata          json.RawMessage `json:"metadata"`
	Recurring         json.RawMessage `json:"recurring"`
	TaxBehavior       string          `json:"tax_behavior"`
	Tiers             json.RawMessage `json:"tiers"`
	TransformQuantity json.RawMessage `json:"transform_quantity"`
	UnitAmountDecimal string          `json:"unit_amount_decimal"`
}

var (
	priceEndpoint = "/v1/prices"
	priceTable    = "stripe_prices"

	// priceProduct links a price to the local row of its product.
	priceProduct = Ref{
		Table:    priceTable,
		Column:   "product",
		IDColumn: "product_id",
		Target:   productTable,
	}

	ErrUnboundedTier = errors.New("only the last tier can be unbounded")
)

func checkTiers(tiers []Tier) error {
	for i, t := range tiers {
		if t.UpTo == nil && i != len(tiers)-1 {
			return ErrUnboundedTier
		}
	}
	return nil
}

// ParsePrice decodes the given raw Stripe price. An error is returned if the
// tiers of the price are malformed.
func ParsePrice(raw json.RawMessage) (Price, error) {
	var p Price

	if err := json.Unmarshal(raw, &p); err != nil {
		return p, err
	}

	var expanded struct {
		Product json.RawMessage `json:"product"`
	}

	if err := json.Unmarshal(raw, &expanded); err != nil {
		return p, err
	}

	if b := bytes.TrimSpace(expanded.Product); len(b) > 0 && b[0] == '{' {
		var prod struct {
			UnitLabel string `json:"unit_label"`
		}

		if err := json.Unmarshal(b, &prod); err != nil {
			return p, err
		}
		p.UnitLabel = prod.UnitLabel
	}
	return p, checkTiers(p.Tiers)
}

func projectPrice(raw json.RawMessage, observed time.Time) (Record, error) {
	id, err := recordID(raw)

	if err != nil {
		return Record{}, err
	}

	p, err := ParsePrice(raw)

	if err != nil {
		return Record{ExternalID: id}, err
	}

	var b priceBlobs

	if err := json.Unmarshal(raw, &b); err != nil {
		return Record{ExternalID: id}, err
	}

	attrs := Attrs{
		"active":              p.Active,
		"billing_scheme":      nullString(string(p.BillingScheme)),
		"created":             epoch(b.Created),
		"currency":            p.Currency,
		"custom_unit_amount":  blob(b.CustomUnitAmount),
		"livemode":            b.Livemode,
		"lookup_key":          nullString(b.LookupKey),
		"metadata":            blob(b.Metadata),
		"nickname":            nullString(p.Nickname),
		"product":             nullString(string(p.Product)),
		"recurring":           blob(b.Recurring),
		"tax_behavior":        nullString(b.TaxBehavior),
		"tiers_mode":          nullString(string(p.TiersMode)),
		"tiers":               blob(b.Tiers),
		"transform_quantity":  blob(b.TransformQuantity),
		"type":                string(p.Type),
		"unit_amount":         nullInt(p.UnitAmount),
		"unit_amount_decimal": nullString(b.UnitAmountDecimal),
	}

	// Event payloads never carry the expandable tiers, so the stored tiers are
	// only replaced by a payload that has them.
	if b.Tiers == nil {
		delete(attrs, "tiers")
	}

	return Record{
		ExternalID: id,
		Observed:   observed,
		Attrs:      attrs,
	}, nil
}

func priceParams(o Options) Params {
	params := Params{
		"expand": []string{"data.tiers", "data.product"},
	}

	if !o.IncludeInactive {
		params["active"] = true
	}

	if o.Product != "" {
		params["product"] = o.Product
	}

	if o.Type != "" {
		params["type"] = o.Type
	}
	return params
}

// priceFilter filters prices by currency, and by whether they would be shown
// on a pricing page, neither of which the list endpoint can do.
func priceFilter(o Options) Filter {
	if o.Currency == "" && !o.DashboardOnly {
		return nil
	}

	return func(raw json.RawMessage) bool {
		var p Price

		if err := json.Unmarshal(raw, &p); err != nil {
			return false
		}

		if o.Currency != "" && !strings.EqualFold(p.Currency, o.Currency) {
			return false
		}

		if o.DashboardOnly {
			amount := p.UnitAmount != nil && *p.UnitAmount > 0

			if !p.Active || (p.Nickname == "" && !amount) || p.Product == "" {
				return false
			}
		}
		return true
	}
}

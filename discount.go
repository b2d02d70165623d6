package stripesync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type discount struct {
	ID              string     `json:"id"`
	Object          string     `json:"object"`
	CheckoutSession string     `json:"checkout_session"`
	Coupon          expandable `json:"coupon"`
	Customer        expandable `json:"customer"`
	End             *int64     `json:"end"`
	Invoice         string     `json:"invoice"`
	InvoiceItem     string     `json:"invoice_item"`
	PromotionCode   expandable `json:"promotion_code"`
	Start           int64      `json:"start"`
	Subscription    string     `json:"subscription"`
}

var (
	discountTable        = "stripe_discounts"
	subscriptionEndpoint = "/v1/subscriptions"

	// discountNamespace is the namespace of the IDs generated for discounts
	// that Stripe sent without one.
	discountNamespace = uuid.MustParse("5a0e5c55-3f0f-4a4e-9d0c-6b1f0e9c2d11")
)

// discountID returns the ID of the discount. Stripe does not always send an
// ID for an embedded discount, in which case one is derived from the owner of
// the discount and its coupon so the same discount always gets the same ID.
func discountID(d discount, owner string) string {
	if d.ID != "" {
		return d.ID
	}
	return "disc_" + uuid.NewSHA1(discountNamespace, []byte(owner+":"+string(d.Coupon))).String()
}

// ownedDiscount decodes the discount embedded in the given customer or
// subscription, and tags it with the owner's ID. This returns false if the
// owner has no discount.
func ownedDiscount(raw json.RawMessage, customer bool) (json.RawMessage, bool, error) {
	var owner struct {
		ID       string          `json:"id"`
		Discount json.RawMessage `json:"discount"`
	}

	if err := json.Unmarshal(raw, &owner); err != nil {
		return nil, false, err
	}

	if blob(owner.Discount) == nil {
		return nil, false, nil
	}

	var d discount

	if err := json.Unmarshal(owner.Discount, &d); err != nil {
		return nil, false, err
	}

	if customer {
		d.Customer = expandable(owner.ID)
	} else {
		d.Subscription = owner.ID
	}

	d.ID = discountID(d, owner.ID)

	b, err := json.Marshal(d)

	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func hasDiscount(raw json.RawMessage) bool {
	var owner struct {
		Discount json.RawMessage `json:"discount"`
	}

	if err := json.Unmarshal(raw, &owner); err != nil {
		return false
	}
	return blob(owner.Discount) != nil
}

// discoverDiscounts walks the customers and then the subscriptions for the
// discounts attached to them. Discounts are deduplicated by their ID, and no
// more than the limit of the Options are returned.
func discoverDiscounts(ctx context.Context, s *Syncer, o Options, run *Run) ([]json.RawMessage, error) {
	owners := []struct {
		endpoint string
		params   Params
		customer bool
	}{
		{customerEndpoint, Params{}, true},
		{subscriptionEndpoint, Params{"status": "all"}, false},
	}

	seen := make(map[string]struct{})
	discounts := make([]json.RawMessage, 0)

	for _, owner := range owners {
		limit := o.Limit

		if limit > 0 {
			limit -= len(discounts)

			if limit <= 0 {
				run.State = StateExhaustedAtLimit
				break
			}
		}

		walk, err := s.walker().Walk(ctx, owner.endpoint, owner.params, limit, hasDiscount)

		run.Seen += walk.Seen
		run.Pages += walk.Pages
		run.Cursor = walk.Cursor

		if err != nil {
			return discounts, err
		}

		if walk.State == StateExhaustedAtLimit {
			run.State = StateExhaustedAtLimit
		}

		for _, raw := range walk.Records {
			d, ok, err := ownedDiscount(raw, owner.customer)

			if err != nil {
				id, _ := recordID(raw)
				run.fail(id, err)
				continue
			}

			if !ok {
				continue
			}

			id, _ := recordID(d)

			if _, ok := seen[id]; ok {
				continue
			}

			seen[id] = struct{}{}
			discounts = append(discounts, d)
		}
	}
	return discounts, nil
}

func projectDiscount(raw json.RawMessage, observed time.Time) (Record, error) {
	var d discount

	id, err := decode(raw, &d)

	if err != nil {
		return Record{ExternalID: id}, err
	}

	return Record{
		ExternalID: id,
		Observed:   observed,
		Attrs: Attrs{
			"object":           nullString(d.Object),
			"checkout_session": nullString(d.CheckoutSession),
			"coupon":           nullString(string(d.Coupon)),
			"customer":         nullString(string(d.Customer)),
			"end":              epochPtr(d.End),
			"invoice":          nullString(d.Invoice),
			"invoice_item":     nullString(d.InvoiceItem),
			"promotion_code":   nullString(string(d.PromotionCode)),
			"start":            epoch(d.Start),
			"subscription":     nullString(d.Subscription),
		},
	}, nil
}

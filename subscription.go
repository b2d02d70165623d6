package stripesync

import (
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v72"
)

type subscription struct {
	Customer expandable                `json:"customer"`
	EndedAt  *int64                    `json:"ended_at"`
	Quantity *int64                    `json:"quantity"`
	Status   stripe.SubscriptionStatus `json:"status"`
	TrialEnd *int64                    `json:"trial_end"`
}

var (
	subscriptionTable = "stripe_subscriptions"

	subscriptionEvents = map[string]struct{}{
		"customer.subscription.created": {},
		"customer.subscription.updated": {},
		"customer.subscription.deleted": {},
	}
)

// projectSubscription projects the status of a subscription. Only the status,
// quantity, trial end, and end of the subscription are kept, and a deletion
// only touches the status and end. A deleted subscription that Stripe sent
// without an end is taken to have ended when the event was created.
func projectSubscription(raw json.RawMessage, deleted bool, observed time.Time) (Record, error) {
	var s subscription

	id, err := decode(raw, &s)

	if err != nil {
		return Record{ExternalID: id}, err
	}

	attrs := Attrs{
		"customer": nullString(string(s.Customer)),
		"status":   string(s.Status),
		"ends_at":  epochPtr(s.EndedAt),
	}

	if deleted {
		if s.EndedAt == nil {
			attrs["ends_at"] = observed.UTC()
		}
	} else {
		attrs["quantity"] = nullInt(s.Quantity)
		attrs["trial_ends_at"] = epochPtr(s.TrialEnd)
	}

	return Record{
		ExternalID: id,
		Observed:   observed,
		Attrs:      attrs,
	}, nil
}

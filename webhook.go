package stripesync

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v72"

	"go.uber.org/zap"
)

// Event is a single, already verified, webhook event.
type Event struct {
	ID      string
	Type    string
	Created time.Time
	Object  json.RawMessage
}

// eventEntities are the entities whose created and updated events are applied
// with the same projection as a batch sync.
var eventEntities = map[string]Entity{
	"product":        Products,
	"price":          Prices,
	"customer":       Customers,
	"coupon":         Coupons,
	"promotion_code": PromotionCodes,
	"tax_rate":       TaxRates,
}

// EventFromStripe returns the Event for the given stripe.Event.
func EventFromStripe(e stripe.Event) Event {
	ev := Event{
		ID:      e.ID,
		Type:    e.Type,
		Created: time.Unix(e.Created, 0).UTC(),
	}

	if e.Data != nil {
		ev.Object = e.Data.Raw
	}
	return ev
}

// Apply reconciles the object of the given Event. The object is projected
// exactly as it would be by a batch sync, and is observed at the time the
// event was created, so an event that arrives after a newer batch sync is not
// written. Charges are written to both the transactions and the legacy
// transactions tables. Events of an unknown type are logged and ignored.
func (s *Syncer) Apply(ctx context.Context, ev Event) error {
	log := s.log().With(zap.String("event_id", ev.ID), zap.String("event_type", ev.Type))

	if ev.Created.IsZero() {
		ev.Created = s.now()
	}

	var err error

	switch {
	case ev.Type == "charge.succeeded":
		err = s.applyCharge(ctx, log, ev)
	case ev.Type == "payment_intent.succeeded":
		// Handled by the charge.succeeded event of the same payment.
		s.metrics.event(ev.Type, "ignored")
		return nil
	case in(invoiceEvents, ev.Type):
		err = s.applyEntity(ctx, log, Invoices, ev)
	case in(subscriptionEvents, ev.Type):
		err = s.applyProjection(ctx, log, subscriptionTable, ev, func(raw json.RawMessage, t time.Time) (Record, error) {
			return projectSubscription(raw, ev.Type == "customer.subscription.deleted", t)
		})
	case strings.HasPrefix(ev.Type, "v2.money_management.transaction."):
		err = s.applyProjection(ctx, log, transactionTable, ev, projectMoneyTransaction)
	default:
		e, ok := entityEvent(ev.Type)

		if !ok {
			log.Info("unhandled stripe webhook event")
			s.metrics.event(ev.Type, "ignored")
			return nil
		}
		err = s.applyEntity(ctx, log, e, ev)
	}

	if err != nil {
		log.Error("failed to apply event", zap.Error(err))
		s.metrics.event(ev.Type, "error")
		return err
	}

	s.metrics.event(ev.Type, "applied")
	return nil
}

func in(set map[string]struct{}, s string) bool {
	_, ok := set[s]
	return ok
}

// entityEvent returns the Entity for the created or updated event of the given
// type.
func entityEvent(typ string) (Entity, bool) {
	i := strings.LastIndex(typ, ".")

	if i < 0 {
		return Entity{}, false
	}

	switch typ[i+1:] {
	case "created", "updated":
	default:
		return Entity{}, false
	}

	e, ok := eventEntities[typ[:i]]
	return e, ok
}

func (s *Syncer) applyProjection(ctx context.Context, log *zap.Logger, table string, ev Event, project func(json.RawMessage, time.Time) (Record, error)) error {
	rec, err := project(ev.Object, ev.Created)

	if err != nil {
		return err
	}

	o, err := s.reconciler(log).Reconcile(ctx, table, rec)

	if err != nil {
		return err
	}

	if o == Stale {
		log.Info("ignoring stale event", zap.String("external_id", rec.ExternalID))
	}
	return nil
}

func (s *Syncer) applyEntity(ctx context.Context, log *zap.Logger, e Entity, ev Event) error {
	rec, err := e.Project(ev.Object, ev.Created)

	if err != nil {
		return err
	}

	if e.Enrich != nil {
		e.Enrich(ctx, s, Options{}, &rec)
	}

	rc := s.reconciler(log)

	o, err := rc.Reconcile(ctx, e.Table, rec)

	if err != nil {
		return err
	}

	s.metrics.record(e.Name, o.String())

	if o == Stale {
		log.Info("ignoring stale event", zap.String("external_id", rec.ExternalID))
		return nil
	}

	if len(e.Refs) > 0 {
		if _, err := rc.Resolve(ctx, e.Refs); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) applyCharge(ctx context.Context, log *zap.Logger, ev Event) error {
	if err := s.applyProjection(ctx, log, transactionTable, ev, projectCharge); err != nil {
		return err
	}

	return s.applyProjection(ctx, log, legacyTransactionTable, ev, func(raw json.RawMessage, t time.Time) (Record, error) {
		return projectLegacyCharge(raw, ev.ID, t)
	})
}

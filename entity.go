package stripesync

import (
	"context"
	"encoding/json"
	"time"
)

// Entity describes how a single type of Stripe object is synced: where it is
// listed from, how it is filtered, and how it is projected into its table.
type Entity struct {
	Name     string
	Table    string
	Endpoint string

	// Columns are the projected columns shown when records are fetched
	// without being saved.
	Columns []string

	// Params returns the list parameters for the given Options.
	Params func(Options) Params

	// Filter returns the client side filter for the given Options, if any.
	Filter func(Options) Filter

	// Expand is expanded when a single record is retrieved by ID.
	Expand []string

	// Discover finds the records of an entity that cannot be listed directly.
	Discover func(context.Context, *Syncer, Options, *Run) ([]json.RawMessage, error)

	Project func(json.RawMessage, time.Time) (Record, error)

	// Enrich adds local only attributes to a projected Record. This is best
	// effort, and cannot fail the record.
	Enrich func(context.Context, *Syncer, Options, *Record)

	// Refs are linked after the records of the entity are reconciled.
	Refs []Ref
}

// Options are the options for a single sync.
type Options struct {
	// Limit is the maximum number of records fetched. A negative limit
	// fetches every record.
	Limit int

	// Save reconciles the fetched records into the Store. When false the
	// records are only fetched, and returned in the Run.
	Save bool

	// IDs retrieves only the records with the given IDs instead of listing.
	IDs []string

	IncludeInactive bool
	Currency        string
	Product         string
	Type            string
	DashboardOnly   bool
	Email           string
	CreatedSince    time.Time
	IncludeDeleted  bool
	NoLinkUsers     bool
	Status          string
	Customer        string
}

var (
	Products = Entity{
		Name:     "products",
		Table:    productTable,
		Endpoint: productEndpoint,
		Columns:  []string{"name", "active", "default_price", "created"},
		Params:   productParams,
		Project:  projectProduct,
		Refs:     []Ref{productDefaultPrice, priceProduct},
	}

	Prices = Entity{
		Name:     "prices",
		Table:    priceTable,
		Endpoint: priceEndpoint,
		Columns:  []string{"product", "nickname", "unit_amount", "currency", "type", "active"},
		Params:   priceParams,
		Filter:   priceFilter,
		Expand:   []string{"tiers", "product"},
		Project:  projectPrice,
		Refs:     []Ref{priceProduct, productDefaultPrice},
	}

	Customers = Entity{
		Name:     "customers",
		Table:    customerTable,
		Endpoint: customerEndpoint,
		Columns:  []string{"email", "name", "created"},
		Params:   customerParams,
		Filter:   customerFilter,
		Project:  projectCustomer,
		Enrich:   linkUser,
	}

	Meters = Entity{
		Name:     "meters",
		Table:    meterTable,
		Endpoint: meterEndpoint,
		Columns:  []string{"display_name", "event_name", "status"},
		Params:   meterParams,
		Project:  projectMeter,
	}

	Discounts = Entity{
		Name:     "discounts",
		Table:    discountTable,
		Columns:  []string{"customer", "subscription", "coupon", "start", "end"},
		Discover: discoverDiscounts,
		Project:  projectDiscount,
	}

	PromotionCodes = Entity{
		Name:     "promotion-codes",
		Table:    promotionCodeTable,
		Endpoint: promotionCodeEndpoint,
		Columns:  []string{"code", "coupon", "active", "times_redeemed"},
		Params:   activeParams,
		Project:  projectPromotionCode,
	}

	Coupons = Entity{
		Name:     "coupons",
		Table:    couponTable,
		Endpoint: couponEndpoint,
		Columns:  []string{"name", "percent_off", "amount_off", "duration", "valid"},
		Project:  projectCoupon,
	}

	TaxCodes = Entity{
		Name:     "tax-codes",
		Table:    taxCodeTable,
		Endpoint: taxCodeEndpoint,
		Columns:  []string{"name"},
		Project:  projectTaxCode,
	}

	TaxRates = Entity{
		Name:     "tax-rates",
		Table:    taxRateTable,
		Endpoint: taxRateEndpoint,
		Columns:  []string{"display_name", "percentage", "jurisdiction", "active"},
		Params:   activeParams,
		Project:  projectTaxRate,
	}

	Invoices = Entity{
		Name:     "invoices",
		Table:    invoiceTable,
		Endpoint: invoiceEndpoint,
		Columns:  []string{"number", "customer", "status", "total", "currency"},
		Params:   invoiceParams,
		Project:  projectInvoice,
	}
)

// Entities returns every Entity in the order they should be synced. Products
// come before the prices that refer to them.
func Entities() []Entity {
	return []Entity{
		Products,
		Prices,
		Customers,
		Meters,
		Discounts,
		PromotionCodes,
		Coupons,
		TaxCodes,
		TaxRates,
		Invoices,
	}
}

// EntityByName returns the Entity of the given name.
func EntityByName(name string) (Entity, bool) {
	for _, e := range Entities() {
		if e.Name == name {
			return e, true
		}
	}
	return Entity{}, false
}

func (e Entity) params(o Options) Params {
	if e.Params == nil {
		return Params{}
	}
	return e.Params(o)
}

func (e Entity) filter(o Options) Filter {
	if e.Filter == nil {
		return nil
	}
	return e.Filter(o)
}

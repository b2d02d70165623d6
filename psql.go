package stripesync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andrewpillar/query"

	"github.com/lib/pq"

	"github.com/stripe/stripe-go/v72"
)

// PSQL provides a way of storing Stripe records within PostgreSQL. Every
// mirrored table is keyed by the external_id of the record, and carries the
// time the record was observed in observed_at. Using this implementation of
// the Store interface would require having the following schema,
//
//	CREATE TABLE stripe_products (
//	    id                   BIGSERIAL PRIMARY KEY,
//	    external_id          VARCHAR NOT NULL UNIQUE,
//	    active               BOOLEAN NOT NULL,
//	    created              TIMESTAMP NULL,
//	    default_price        VARCHAR NULL,
//	    default_price_id     BIGINT NULL,
//	    description          TEXT NULL,
//	    images               JSON NULL,
//	    livemode             BOOLEAN NOT NULL,
//	    marketing_features   JSON NULL,
//	    metadata             JSON NULL,
//	    name                 VARCHAR NOT NULL,
//	    package_dimensions   JSON NULL,
//	    shippable            BOOLEAN NULL,
//	    statement_descriptor VARCHAR NULL,
//	    tax_code             VARCHAR NULL,
//	    unit_label           VARCHAR NULL,
//	    updated              TIMESTAMP NULL,
//	    url                  VARCHAR NULL,
//	    observed_at          TIMESTAMP NOT NULL
//	);
//
//	CREATE TABLE stripe_prices (
//	    id                  BIGSERIAL PRIMARY KEY,
//	    external_id         VARCHAR NOT NULL UNIQUE,
//	    active              BOOLEAN NOT NULL,
//	    billing_scheme      VARCHAR NULL,
//	    created             TIMESTAMP NULL,
//	    currency            VARCHAR NOT NULL,
//	    custom_unit_amount  JSON NULL,
//	    livemode            BOOLEAN NOT NULL,
//	    lookup_key          VARCHAR NULL,
//	    metadata            JSON NULL,
//	    nickname            VARCHAR NULL,
//	    product             VARCHAR NULL,
//	    product_id          BIGINT NULL,
//	    recurring           JSON NULL,
//	    tax_behavior        VARCHAR NULL,
//	    tiers_mode          VARCHAR NULL,
//	    tiers               JSON NULL,
//	    transform_quantity  JSON NULL,
//	    type                VARCHAR NOT NULL,
//	    unit_amount         BIGINT NULL,
//	    unit_amount_decimal VARCHAR NULL,
//	    observed_at         TIMESTAMP NOT NULL
//	);
//
//	CREATE TABLE stripe_customers (
//	    id                    BIGSERIAL PRIMARY KEY,
//	    external_id           VARCHAR NOT NULL UNIQUE,
//	    user_id               BIGINT NULL,
//	    address               JSON NULL,
//	    balance               BIGINT NOT NULL DEFAULT 0,
//	    created               TIMESTAMP NULL,
//	    currency              VARCHAR NULL,
//	    default_source        VARCHAR NULL,
//	    delinquent            BOOLEAN NULL,
//	    description           TEXT NULL,
//	    email                 VARCHAR NULL UNIQUE,
//	    invoice_prefix        VARCHAR NULL,
//	    invoice_settings      JSON NULL,
//	    livemode              BOOLEAN NOT NULL,
//	    metadata              JSON NULL,
//	    name                  VARCHAR NULL,
//	    next_invoice_sequence BIGINT NULL,
//	    phone                 VARCHAR NULL,
//	    preferred_locales     JSON NULL,
//	    shipping              JSON NULL,
//	    tax_exempt            VARCHAR NULL,
//	    test_clock            VARCHAR NULL,
//	    observed_at           TIMESTAMP NOT NULL
//	);
//
//	CREATE TABLE stripe_coupons (
//	    id                 BIGSERIAL PRIMARY KEY,
//	    external_id        VARCHAR NOT NULL UNIQUE,
//	    amount_off         BIGINT NULL,
//	    created            TIMESTAMP NULL,
//	    currency           VARCHAR NULL,
//	    duration           VARCHAR NOT NULL,
//	    duration_in_months BIGINT NULL,
//	    livemode           BOOLEAN NOT NULL,
//	    max_redemptions    BIGINT NULL,
//	    metadata           JSON NULL,
//	    name               VARCHAR NULL,
//	    percent_off        NUMERIC NULL,
//	    redeem_by          TIMESTAMP NULL,
//	    times_redeemed     BIGINT NOT NULL DEFAULT 0,
//	    valid              BOOLEAN NOT NULL,
//	    observed_at        TIMESTAMP NOT NULL
//	);
//
//	CREATE TABLE stripe_discounts (
//	    id               BIGSERIAL PRIMARY KEY,
//	    external_id      VARCHAR NOT NULL UNIQUE,
//	    object           VARCHAR NULL,
//	    checkout_session VARCHAR NULL,
//	    coupon           VARCHAR NULL,
//	    customer         VARCHAR NULL,
//	    "end"            TIMESTAMP NULL,
//	    invoice          VARCHAR NULL,
//	    invoice_item     VARCHAR NULL,
//	    promotion_code   VARCHAR NULL,
//	    start            TIMESTAMP NULL,
//	    subscription     VARCHAR NULL,
//	    observed_at      TIMESTAMP NOT NULL
//	);
//
//	CREATE TABLE stripe_promotion_codes (
//	    id              BIGSERIAL PRIMARY KEY,
//	    external_id     VARCHAR NOT NULL UNIQUE,
//	    active          BOOLEAN NOT NULL,
//	    code            VARCHAR NOT NULL UNIQUE,
//	    coupon          VARCHAR NULL,
//	    created         TIMESTAMP NULL,
//	    customer        VARCHAR NULL,
//	    expires_at      TIMESTAMP NULL,
//	    livemode        BOOLEAN NOT NULL,
//	    max_redemptions BIGINT NULL,
//	    metadata        JSON NULL,
//	    restrictions    JSON NULL,
//	    times_redeemed  BIGINT NOT NULL DEFAULT 0,
//	    observed_at     TIMESTAMP NOT NULL
//	);
//
//	CREATE TABLE stripe_tax_codes (
//	    id          BIGSERIAL PRIMARY KEY,
//	    external_id VARCHAR NOT NULL UNIQUE,
//	    description TEXT NULL,
//	    name        VARCHAR NOT NULL,
//	    observed_at TIMESTAMP NOT NULL
//	);
//
//	CREATE TABLE stripe_tax_rates (
//	    id           BIGSERIAL PRIMARY KEY,
//	    external_id  VARCHAR NOT NULL UNIQUE,
//	    active       BOOLEAN NOT NULL,
//	    country      VARCHAR NULL,
//	    created      TIMESTAMP NULL,
//	    description  TEXT NULL,
//	    display_name VARCHAR NOT NULL,
//	    inclusive    BOOLEAN NOT NULL,
//	    jurisdiction VARCHAR NULL,
//	    livemode     BOOLEAN NOT NULL,
//	    metadata     JSON NULL,
//	    percentage   NUMERIC NOT NULL,
//	    state        VARCHAR NULL,
//	    tax_type     VARCHAR NULL,
//	    observed_at  TIMESTAMP NOT NULL
//	);
//
//	CREATE TABLE stripe_meters (
//	    id                  BIGSERIAL PRIMARY KEY,
//	    external_id         VARCHAR NOT NULL UNIQUE,
//	    created             TIMESTAMP NULL,
//	    customer_mapping    JSON NULL,
//	    default_aggregation JSON NULL,
//	    display_name        VARCHAR NOT NULL,
//	    event_name          VARCHAR NOT NULL,
//	    event_time_window   VARCHAR NULL,
//	    livemode            BOOLEAN NOT NULL,
//	    status              VARCHAR NOT NULL,
//	    status_transitions  JSON NULL,
//	    updated             TIMESTAMP NULL,
//	    value_settings      JSON NULL,
//	    observed_at         TIMESTAMP NOT NULL
//	);
//
//	CREATE TABLE stripe_invoices (
//	    id                                         BIGSERIAL PRIMARY KEY,
//	    external_id                                VARCHAR NOT NULL UNIQUE,
//	    object_type                                VARCHAR NOT NULL,
//	    amount_due                                 BIGINT NOT NULL DEFAULT 0,
//	    amount_paid                                BIGINT NOT NULL DEFAULT 0,
//	    amount_remaining                           BIGINT NOT NULL DEFAULT 0,
//	    attempt_count                              BIGINT NOT NULL DEFAULT 0,
//	    attempted                                  BOOLEAN NOT NULL DEFAULT FALSE,
//	    billing_reason                             VARCHAR NULL,
//	    collection_method                          VARCHAR NULL,
//	    currency                                   VARCHAR NOT NULL,
//	    customer                                   VARCHAR NULL,
//	    customer_email                             VARCHAR NULL,
//	    customer_name                              VARCHAR NULL,
//	    description                                TEXT NULL,
//	    discounts                                  JSON NULL,
//	    due_date                                   TIMESTAMP NULL,
//	    hosted_invoice_url                         VARCHAR NULL,
//	    invoice_pdf                                VARCHAR NULL,
//	    livemode                                   BOOLEAN NOT NULL,
//	    metadata                                   JSON NULL,
//	    number                                     VARCHAR NULL,
//	    paid                                       BOOLEAN NOT NULL DEFAULT FALSE,
//	    payment_intent                             VARCHAR NULL,
//	    period_end                                 TIMESTAMP NULL,
//	    period_start                               TIMESTAMP NULL,
//	    status                                     VARCHAR NULL,
//	    status_transitions_finalized_at            TIMESTAMP NULL,
//	    status_transitions_marked_uncollectible_at TIMESTAMP NULL,
//	    status_transitions_paid_at                 TIMESTAMP NULL,
//	    status_transitions_voided_at               TIMESTAMP NULL,
//	    stripe_created_at                          TIMESTAMP NULL,
//	    subscription                               VARCHAR NULL,
//	    subtotal                                   BIGINT NOT NULL DEFAULT 0,
//	    total                                      BIGINT NOT NULL DEFAULT 0,
//	    observed_at                                TIMESTAMP NOT NULL
//	);
//
//	CREATE TABLE stripe_transactions (
//	    id                                       BIGSERIAL PRIMARY KEY,
//	    external_id                              VARCHAR NOT NULL UNIQUE,
//	    object_type                              VARCHAR NOT NULL,
//	    amount_value                             BIGINT NOT NULL,
//	    amount_currency                          VARCHAR NOT NULL,
//	    balance_impact_available_value           BIGINT NULL,
//	    balance_impact_available_currency        VARCHAR NULL,
//	    balance_impact_inbound_pending_value     BIGINT NULL,
//	    balance_impact_inbound_pending_currency  VARCHAR NULL,
//	    balance_impact_outbound_pending_value    BIGINT NULL,
//	    balance_impact_outbound_pending_currency VARCHAR NULL,
//	    category                                 VARCHAR NULL,
//	    financial_account                        VARCHAR NULL,
//	    status                                   VARCHAR NULL,
//	    flow_type                                VARCHAR NULL,
//	    flow_outbound_transfer                   VARCHAR NULL,
//	    status_transitions_posted_at             TIMESTAMP NULL,
//	    status_transitions_void_at               TIMESTAMP NULL,
//	    stripe_created_at                        TIMESTAMP NULL,
//	    charge_id                                VARCHAR NULL,
//	    payment_intent_id                        VARCHAR NULL,
//	    customer_id                              VARCHAR NULL,
//	    payment_method_id                        VARCHAR NULL,
//	    invoice_id                               VARCHAR NULL,
//	    balance_transaction_id                   VARCHAR NULL,
//	    amount_captured                          BIGINT NULL,
//	    amount_refunded                          BIGINT NULL,
//	    captured                                 BOOLEAN NULL,
//	    disputed                                 BOOLEAN NULL,
//	    refunded                                 BOOLEAN NULL,
//	    failure_code                             VARCHAR NULL,
//	    failure_message                          TEXT NULL,
//	    receipt_email                            VARCHAR NULL,
//	    receipt_number                           VARCHAR NULL,
//	    receipt_url                              VARCHAR NULL,
//	    payment_method_type                      VARCHAR NULL,
//	    payment_method_info                      JSON NULL,
//	    billing_details                          JSON NULL,
//	    outcome                                  JSON NULL,
//	    metadata                                 JSON NULL,
//	    observed_at                              TIMESTAMP NOT NULL
//	);
//
//	CREATE TABLE stripe_legacy_transactions (
//	    id                  BIGSERIAL PRIMARY KEY,
//	    external_id         VARCHAR NOT NULL UNIQUE,
//	    event_id            VARCHAR NULL,
//	    transaction_id      VARCHAR NULL,
//	    invoice_id          VARCHAR NULL,
//	    customer_id         VARCHAR NULL,
//	    payment_method_id   VARCHAR NULL,
//	    amount              BIGINT NOT NULL,
//	    transaction_date    TIMESTAMP NULL,
//	    paid                BOOLEAN NOT NULL,
//	    payment_method_type VARCHAR NULL,
//	    card_brand          VARCHAR NULL,
//	    card_last4          VARCHAR NULL,
//	    card_exp_month      BIGINT NULL,
//	    card_exp_year       BIGINT NULL,
//	    authorization_code  VARCHAR NULL,
//	    receipt_url         VARCHAR NULL,
//	    status              VARCHAR NULL,
//	    observed_at         TIMESTAMP NOT NULL
//	);
//
//	CREATE TABLE stripe_subscriptions (
//	    id            BIGSERIAL PRIMARY KEY,
//	    external_id   VARCHAR NOT NULL UNIQUE,
//	    customer      VARCHAR NULL,
//	    status        VARCHAR NOT NULL,
//	    quantity      BIGINT NULL,
//	    trial_ends_at TIMESTAMP NULL,
//	    ends_at       TIMESTAMP NULL,
//	    observed_at   TIMESTAMP NOT NULL
//	);
//
//	CREATE TABLE stripe_events (
//	    id VARCHAR NOT NULL UNIQUE
//	);
//
//	CREATE TABLE stripe_sync_logs (
//	    id          BIGSERIAL PRIMARY KEY,
//	    run_id      UUID NOT NULL UNIQUE,
//	    entity      VARCHAR NOT NULL,
//	    state       VARCHAR NOT NULL,
//	    cursor      VARCHAR NULL,
//	    seen        INT NOT NULL,
//	    fetched     INT NOT NULL,
//	    created     INT NOT NULL,
//	    updated     INT NOT NULL,
//	    stale       INT NOT NULL,
//	    linked      BIGINT NOT NULL,
//	    errors      INT NOT NULL,
//	    error       TEXT NULL,
//	    started_at  TIMESTAMP NOT NULL,
//	    finished_at TIMESTAMP NOT NULL
//	);
//
// Customers are linked to the id of a row in the users table by email, this
// table only needs the id and email columns.
type PSQL struct {
	*sql.DB
}

var (
	_ Store = (*PSQL)(nil)

	eventTable   = "stripe_events"
	syncLogTable = "stripe_sync_logs"
)

// uniqueViolation is the PostgreSQL error code for a unique_violation.
const uniqueViolation = "23505"

func isConflict(err error) bool {
	var pqerr *pq.Error

	if errors.As(err, &pqerr) {
		return pqerr.Code == uniqueViolation
	}
	return false
}

// Upsert will insert the given Record into the table, or update the existing
// row with the same external_id in a single statement. The update is only
// made if the existing row was observed no later than the Record, otherwise
// Stale is returned.
func (p PSQL) Upsert(ctx context.Context, table string, r Record) (Outcome, error) {
	cols := r.Attrs.Columns()

	vals := make([]interface{}, 0, len(cols)+2)
	vals = append(vals, r.ExternalID)

	for _, col := range cols {
		vals = append(vals, r.Attrs[col])
	}

	observed := r.Observed

	if observed.IsZero() {
		observed = time.Now()
	}

	vals = append(vals, observed.UTC())

	quoted := make([]string, 0, len(cols)+2)
	quoted = append(quoted, "external_id")

	for _, col := range cols {
		quoted = append(quoted, pq.QuoteIdentifier(col))
	}

	quoted = append(quoted, "observed_at")

	set := make([]string, 0, len(quoted)-1)

	for _, col := range quoted[1:] {
		set = append(set, col+" = EXCLUDED."+col)
	}

	q := query.Insert(table, query.Columns(quoted...), query.Values(vals...))

	stmt := q.Build() +
		" ON CONFLICT (external_id) DO UPDATE SET " + strings.Join(set, ", ") +
		" WHERE " + table + ".observed_at <= EXCLUDED.observed_at" +
		" RETURNING (xmax = 0)"

	var inserted bool

	if err := p.QueryRowContext(ctx, stmt, q.Args()...).Scan(&inserted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Stale, nil
		}

		if isConflict(err) {
			return 0, fmt.Errorf("%w: %s: %s", ErrConflict, r.ExternalID, err)
		}
		return 0, err
	}

	if inserted {
		return Created, nil
	}
	return Updated, nil
}

// FindOne will lookup the id of the first row in the table where the column
// matches the given value.
func (p PSQL) FindOne(ctx context.Context, table, column string, value interface{}) (int64, bool, error) {
	q := query.Select(
		query.Columns("id"),
		query.From(table),
		query.Where(column, "=", query.Arg(value)),
	)

	var id int64

	if err := p.QueryRowContext(ctx, q.Build(), q.Args()...).Scan(&id); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, false, err
		}
		return 0, false, nil
	}
	return id, true, nil
}

// Price rebuilds the Price with the given external_id from the stripe_prices
// table. The unit label is taken from the price's product, if the product has
// been synced. If the price does not exist then ErrNotFound is returned.
func (p PSQL) Price(ctx context.Context, externalID string) (Price, error) {
	stmt := "SELECT x.external_id, x.active, x.billing_scheme, x.currency, x.nickname, x.product," +
		" x.recurring, x.tiers, x.tiers_mode, x.transform_quantity, x.type, x.unit_amount, y.unit_label" +
		" FROM " + priceTable + " x LEFT JOIN " + productTable + " y ON y.external_id = x.product" +
		" WHERE x.external_id = $1"

	var (
		pr Price

		scheme, nickname, product, tiersMode, unitLabel sql.NullString
		recurring, tiers, transform                     []byte
		typ                                             string
		amount                                          sql.NullInt64
	)

	row := p.QueryRowContext(ctx, stmt, externalID)

	err := row.Scan(
		&pr.ID,
		&pr.Active,
		&scheme,
		&pr.Currency,
		&nickname,
		&product,
		&recurring,
		&tiers,
		&tiersMode,
		&transform,
		&typ,
		&amount,
		&unitLabel,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return pr, fmt.Errorf("%w: %s", ErrNotFound, externalID)
		}
		return pr, err
	}

	pr.BillingScheme = stripe.PriceBillingScheme(scheme.String)
	pr.Nickname = nickname.String
	pr.Product = expandable(product.String)
	pr.TiersMode = stripe.PriceTiersMode(tiersMode.String)
	pr.Type = stripe.PriceType(typ)
	pr.UnitLabel = unitLabel.String

	if amount.Valid {
		pr.UnitAmount = &amount.Int64
	}

	blobs := []struct {
		raw []byte
		dst interface{}
	}{
		{recurring, &pr.Recurring},
		{tiers, &pr.Tiers},
		{transform, &pr.TransformQuantity},
	}

	for _, b := range blobs {
		if len(b.raw) == 0 {
			continue
		}

		if err := json.Unmarshal(b.raw, b.dst); err != nil {
			return pr, fmt.Errorf("%s: %w", externalID, err)
		}
	}
	return pr, checkTiers(pr.Tiers)
}

// Link resolves the local id column of the given Ref in a single statement.
// References to records that do not exist yet are set to NULL, and will be
// set once the record is synced.
func (p PSQL) Link(ctx context.Context, ref Ref) (int64, error) {
	target := "(SELECT x.id FROM " + ref.Target + " x WHERE x.external_id = " + ref.Table + "." + ref.Column + ")"

	stmt := "UPDATE " + ref.Table + " SET " + ref.IDColumn + " = " + target +
		" WHERE " + ref.IDColumn + " IS DISTINCT FROM " + target

	res, err := p.ExecContext(ctx, stmt)

	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LogEvent will store the given event ID in the stripe_events table. If the
// event ID already exists then ErrEventExists is returned.
func (p PSQL) LogEvent(ctx context.Context, id string) error {
	q := query.Select(
		query.Count("id"),
		query.From(eventTable),
		query.Where("id", "=", query.Arg(id)),
	)

	var count int64

	if err := p.QueryRowContext(ctx, q.Build(), q.Args()...).Scan(&count); err != nil {
		return err
	}

	if count > 0 {
		return ErrEventExists
	}

	q = query.Insert(eventTable, query.Columns("id"), query.Values(id))

	if _, err := p.ExecContext(ctx, q.Build(), q.Args()...); err != nil {
		if isConflict(err) {
			return ErrEventExists
		}
		return err
	}
	return nil
}

// LogRun will store the summary of the given Run in the stripe_sync_logs
// table.
func (p PSQL) LogRun(ctx context.Context, run *Run) error {
	var runErr interface{}

	if run.Err != nil {
		runErr = run.Err.Error()
	}

	q := query.Insert(
		syncLogTable,
		query.Columns(
			"run_id",
			"entity",
			"state",
			"cursor",
			"seen",
			"fetched",
			"created",
			"updated",
			"stale",
			"linked",
			"errors",
			"error",
			"started_at",
			"finished_at",
		),
		query.Values(
			run.ID.String(),
			run.Entity,
			string(run.State),
			nullString(run.Cursor),
			run.Seen,
			run.Fetched,
			run.Created,
			run.Updated,
			run.Stale,
			run.Linked,
			len(run.Errors),
			runErr,
			run.StartedAt.UTC(),
			run.FinishedAt.UTC(),
		),
	)

	_, err := p.ExecContext(ctx, q.Build(), q.Args()...)
	return err
}

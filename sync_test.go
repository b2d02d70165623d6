package stripesync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTime(sec int64) time.Time {
	return time.Unix(1700000000+sec, 0).UTC()
}

// newTestSyncer returns a Syncer whose clock advances one second every time
// it is read.
func newTestSyncer(src Source, st Store, opts ...Option) *Syncer {
	s := New(src, st, opts...)

	var tick int64

	s.now = func() time.Time {
		tick++
		return testTime(tick)
	}
	return s
}

func testProduct(id, name, defaultPrice string) string {
	if defaultPrice == "" {
		return fmt.Sprintf(`{"id":%q,"object":"product","active":true,"name":%q,"default_price":null}`, id, name)
	}
	return fmt.Sprintf(`{"id":%q,"object":"product","active":true,"name":%q,"default_price":%q}`, id, name, defaultPrice)
}

func testPrice(id, product string, amount int64) string {
	return fmt.Sprintf(`{"id":%q,"object":"price","active":true,"currency":"usd","product":%q,"type":"recurring","unit_amount":%d,"billing_scheme":"per_unit"}`, id, product, amount)
}

func Test_SyncIdempotent(t *testing.T) {
	src := newTestSource()
	src.add(productEndpoint,
		testProduct("prod_1", "Basic", ""),
		testProduct("prod_2", "Pro", ""),
	)

	store := newTestStore()
	s := newTestSyncer(src, store)

	o := Options{Limit: -1, Save: true}

	run, err := s.Sync(context.Background(), Products, o)

	require.NoError(t, err)
	assert.Equal(t, 2, run.Created)
	assert.Equal(t, StateCompleted, run.State)
	assert.True(t, run.Succeeded())

	run, err = s.Sync(context.Background(), Products, o)

	require.NoError(t, err)
	assert.Equal(t, 0, run.Created)
	assert.Equal(t, 2, run.Updated)
	assert.Equal(t, 2, store.count(productTable))
	assert.Len(t, store.runs, 2)
}

func Test_SyncRecordIsolation(t *testing.T) {
	src := newTestSource()

	for i := 1; i <= 5; i++ {
		src.add(productEndpoint, testProduct(fmt.Sprintf("prod_%d", i), "Product", ""))
	}

	store := newTestStore()
	store.fail["prod_3"] = errors.New("constraint violation")

	s := newTestSyncer(src, store)

	run, err := s.Sync(context.Background(), Products, Options{Limit: -1, Save: true})

	require.NoError(t, err)
	assert.Equal(t, 4, run.Created)
	assert.Equal(t, StateCompleted, run.State)
	assert.False(t, run.Succeeded())

	require.Len(t, run.Errors, 1)
	assert.Equal(t, "prod_3", run.Errors[0].ExternalID)

	for _, id := range []string{"prod_1", "prod_2", "prod_4", "prod_5"} {
		if _, ok := store.row(productTable, id); !ok {
			t.Errorf("expected %s to be stored\n", id)
		}
	}
}

func Test_SyncProjectFailure(t *testing.T) {
	src := newTestSource()
	src.add(priceEndpoint,
		testPrice("price_1", "prod_1", 100),
		`{"id":"price_2","object":"price","currency":"usd","tiers":[{"up_to":null,"unit_amount":1},{"up_to":10,"unit_amount":2}]}`,
	)

	store := newTestStore()
	s := newTestSyncer(src, store)

	run, err := s.Sync(context.Background(), Prices, Options{Limit: -1, Save: true, IncludeInactive: true})

	require.NoError(t, err)
	assert.Equal(t, 1, run.Created)

	require.Len(t, run.Errors, 1)
	assert.Equal(t, "price_2", run.Errors[0].ExternalID)
	assert.ErrorIs(t, run.Errors[0], ErrUnboundedTier)
}

func Test_SyncConflictRetried(t *testing.T) {
	src := newTestSource()
	src.add(productEndpoint, testProduct("prod_1", "Basic", ""))

	store := newTestStore()
	store.conflicts = 1

	s := newTestSyncer(src, store)

	run, err := s.Sync(context.Background(), Products, Options{Limit: -1, Save: true})

	require.NoError(t, err)
	assert.Equal(t, 1, run.Created)
	assert.Empty(t, run.Errors)
	assert.Equal(t, 2, store.upserts)
}

func Test_SyncMutualReferences(t *testing.T) {
	src := newTestSource()
	src.add(productEndpoint, testProduct("prod_1", "Pro", "price_1"))
	src.add(priceEndpoint, testPrice("price_1", "prod_1", 1000))

	store := newTestStore()
	s := newTestSyncer(src, store)

	o := Options{Limit: -1, Save: true}

	runs, err := s.SyncAll(context.Background(), []Entity{Products, Prices}, o)

	require.NoError(t, err)
	require.Len(t, runs, 2)

	prod, ok := store.row(productTable, "prod_1")
	require.True(t, ok)

	price, ok := store.row(priceTable, "price_1")
	require.True(t, ok)

	assert.Equal(t, price.id, prod.rec.Attrs["default_price_id"])
	assert.Equal(t, prod.id, price.rec.Attrs["product_id"])

	// Syncing again in the reverse order keeps both links.
	_, err = s.SyncAll(context.Background(), []Entity{Prices, Products}, o)

	require.NoError(t, err)
	assert.Equal(t, price.id, prod.rec.Attrs["default_price_id"])
	assert.Equal(t, prod.id, price.rec.Attrs["product_id"])
}

func Test_SyncAbort(t *testing.T) {
	src := newTestSource()
	src.errs[productEndpoint] = &Error{Status: 401}
	src.add(priceEndpoint, testPrice("price_1", "prod_1", 1000))

	store := newTestStore()
	s := newTestSyncer(src, store)

	runs, err := s.SyncAll(context.Background(), []Entity{Products, Prices}, Options{Limit: -1, Save: true})

	require.ErrorIs(t, err, ErrAuthentication)
	require.Len(t, runs, 1)

	assert.Equal(t, StateAborted, runs[0].State)
	assert.False(t, runs[0].Succeeded())
	assert.Equal(t, 0, store.count(priceTable))
	assert.Len(t, store.runs, 1)
}

func Test_SyncValidationContinues(t *testing.T) {
	src := newTestSource()
	src.errs[meterEndpoint] = &Error{Status: 400}
	src.add(productEndpoint, testProduct("prod_1", "Basic", ""))

	store := newTestStore()
	s := newTestSyncer(src, store)

	runs, err := s.SyncAll(context.Background(), []Entity{Meters, Products}, Options{Limit: -1, Save: true})

	require.ErrorIs(t, err, ErrValidation)
	require.Len(t, runs, 2)

	assert.Equal(t, StateAborted, runs[0].State)
	assert.True(t, runs[1].Succeeded())
	assert.Equal(t, 1, store.count(productTable))
}

func Test_SyncDryRun(t *testing.T) {
	src := newTestSource()
	src.add(productEndpoint,
		testProduct("prod_1", "Basic", ""),
		testProduct("prod_2", "Pro", ""),
		testProduct("prod_3", "Team", ""),
	)

	store := newTestStore()
	s := newTestSyncer(src, store)

	run, err := s.Sync(context.Background(), Products, Options{Limit: 2})

	require.NoError(t, err)
	assert.Len(t, run.Records, 2)
	assert.Equal(t, StateExhaustedAtLimit, run.State)
	assert.Equal(t, 0, store.upserts)
	assert.Empty(t, store.runs)
}

func Test_SyncIDs(t *testing.T) {
	src := newTestSource()
	src.add(productEndpoint,
		testProduct("prod_1", "Basic", ""),
		testProduct("prod_2", "Pro", ""),
	)

	store := newTestStore()
	s := newTestSyncer(src, store)

	run, err := s.Sync(context.Background(), Products, Options{
		Save: true,
		IDs:  []string{"prod_2", "prod_404"},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, run.Created)
	assert.Equal(t, 0, len(src.requests))

	require.Len(t, run.Errors, 1)
	assert.ErrorIs(t, run.Errors[0], ErrNotFound)

	_, ok := store.row(productTable, "prod_1")
	assert.False(t, ok)
}

func Test_SyncCustomers(t *testing.T) {
	tests := []struct {
		opts          Options
		expectedRows  int
		expectedLinks bool
	}{
		{Options{Limit: -1, Save: true}, 2, true},
		{Options{Limit: -1, Save: true, NoLinkUsers: true}, 2, false},
		{Options{Limit: -1, Save: true, IncludeDeleted: true}, 3, true},
	}

	for i, test := range tests {
		src := newTestSource()
		src.add(customerEndpoint,
			`{"id":"cus_1","object":"customer","email":"alice@example.com","name":"Alice"}`,
			`{"id":"cus_2","object":"customer","email":"bob@example.com","name":"Bob"}`,
			`{"id":"cus_3","object":"customer","deleted":true}`,
		)

		store := newTestStore()
		store.users["alice@example.com"] = 42

		s := newTestSyncer(src, store)

		run, err := s.Sync(context.Background(), Customers, test.opts)

		if err != nil {
			t.Fatalf("tests[%d] - unexpected error: %s\n", i, err)
		}

		if n := store.count(customerTable); n != test.expectedRows {
			t.Errorf("tests[%d] - unexpected customers, expected=%d, got=%d\n", i, test.expectedRows, n)
		}

		if run.Seen != 3 {
			t.Errorf("tests[%d] - unexpected seen, expected=%d, got=%d\n", i, 3, run.Seen)
		}

		alice, _ := store.row(customerTable, "cus_1")
		bob, _ := store.row(customerTable, "cus_2")

		_, linked := alice.rec.Attrs["user_id"]

		if linked != test.expectedLinks {
			t.Errorf("tests[%d] - expected alice to be linked=%v\n", i, test.expectedLinks)
		}

		if _, ok := bob.rec.Attrs["user_id"]; ok {
			t.Errorf("tests[%d] - expected bob to not be linked\n", i)
		}
	}
}

func Test_SyncDiscounts(t *testing.T) {
	src := newTestSource()
	src.add(customerEndpoint,
		`{"id":"cus_1","object":"customer","discount":{"object":"discount","coupon":{"id":"SUMMER"},"start":1700000000}}`,
		`{"id":"cus_2","object":"customer","discount":null}`,
	)
	src.add(subscriptionEndpoint,
		`{"id":"sub_1","object":"subscription","discount":{"id":"di_1","object":"discount","coupon":{"id":"WINTER"},"customer":"cus_2","start":1700000000}}`,
		`{"id":"sub_2","object":"subscription","discount":{"id":"di_1","object":"discount","coupon":{"id":"WINTER"},"customer":"cus_2","start":1700000000}}`,
	)

	store := newTestStore()
	s := newTestSyncer(src, store)

	o := Options{Limit: -1, Save: true}

	run, err := s.Sync(context.Background(), Discounts, o)

	require.NoError(t, err)
	assert.Equal(t, 2, run.Created)
	assert.Equal(t, 4, run.Seen)

	di, ok := store.row(discountTable, "di_1")
	require.True(t, ok)
	assert.Equal(t, "WINTER", di.rec.Attrs["coupon"])

	// The generated ID is stable across runs.
	run, err = s.Sync(context.Background(), Discounts, o)

	require.NoError(t, err)
	assert.Equal(t, 0, run.Created)
	assert.Equal(t, 2, run.Updated)
	assert.Equal(t, 2, store.count(discountTable))

	var generated string

	for id, row := range store.tables[discountTable] {
		if id != "di_1" {
			generated = id
			assert.Equal(t, "cus_1", row.rec.Attrs["customer"])
		}
	}

	assert.Equal(t, discountID(discount{Coupon: "SUMMER"}, "cus_1"), generated)
}

func Test_SyncDiscountsLimit(t *testing.T) {
	src := newTestSource()
	src.add(customerEndpoint,
		`{"id":"cus_1","discount":{"id":"di_1","coupon":"A"}}`,
		`{"id":"cus_2","discount":{"id":"di_2","coupon":"B"}}`,
	)
	src.add(subscriptionEndpoint,
		`{"id":"sub_1","discount":{"id":"di_3","coupon":"C"}}`,
	)

	s := newTestSyncer(src, newTestStore())

	run, err := s.Sync(context.Background(), Discounts, Options{Limit: 2})

	require.NoError(t, err)
	assert.Len(t, run.Records, 2)
	assert.Equal(t, StateExhaustedAtLimit, run.State)

	for _, req := range src.requests {
		assert.Equal(t, customerEndpoint, req.Endpoint)
	}
}

func Test_SyncCancelled(t *testing.T) {
	src := newTestSource()
	src.add(productEndpoint, testProduct("prod_1", "Basic", ""))

	store := newTestStore()
	s := newTestSyncer(src, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runs, err := s.SyncAll(ctx, []Entity{Products, Prices}, Options{Limit: -1, Save: true})

	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, runs, 1)
	assert.Equal(t, StateAborted, runs[0].State)
	assert.Len(t, store.runs, 1)
}

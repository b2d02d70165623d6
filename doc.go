// package stripesync provides a way of mirroring the objects of a Stripe
// account into PostgreSQL, and of keeping them fresh from the webhook events
// that are emitted from Stripe. The products, prices, customers, meters,
// discounts, promotion codes, coupons, tax codes, tax rates, and invoices of
// an account can be synced, and charges, subscriptions, and money management
// transactions are kept from webhook events.
//
// stripesync.Syncer is the main way to sync. This is given a Source to read
// from, typically a stripesync.Client, and a Store to write to, typically
// stripesync.PSQL. Below is a brief example as to how the products and prices
// of an account would be synced,
//
//	db, err := sql.Open("postgres", os.Getenv("DATABASE_URL"))
//
//	if err != nil {
//	    panic(err) // Don't actually do this.
//	}
//
//	client := stripesync.NewClient(stripesync.DefaultAPIVersion, os.Getenv("STRIPE_SECRET"))
//
//	syncer := stripesync.New(client, stripesync.PSQL{DB: db})
//
//	runs, err := syncer.SyncAll(ctx, []stripesync.Entity{
//	    stripesync.Products,
//	    stripesync.Prices,
//	}, stripesync.Options{
//	    Limit: -1,
//	    Save:  true,
//	})
//
//	if err != nil {
//	    panic(err) // Handle error properly.
//	}
//
//	for _, run := range runs {
//	    fmt.Println(run.Entity, run.Created, run.Updated, len(run.Errors))
//	}
//
// Each record is upserted by the ID Stripe gave it, so a sync can be run as
// many times as needed. Records are never deleted by a sync, a record that
// was archived in Stripe is only ever marked as inactive.
//
// Webhook events are handled via the HookHandler, which verifies each event
// and applies it with the same projection used by a sync,
//
//	hook := stripesync.NewHookHandler(os.Getenv("STRIPE_WEBHOOK_SECRET"), syncer, func(err error) {
//	    log.Println(err)
//	})
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("/stripe-hook", hook.HandlerFunc)
//
// Every record is written along with the time it was observed. A webhook
// event is observed when it was created, so an event that is delivered late
// will not overwrite the newer state of a sync.
//
// The prices that are synced can be presented via the Price type,
//
//	p, err := stripesync.ParsePrice(raw)
//
//	if err != nil {
//	    panic(err)
//	}
//
//	fmt.Println(p.DisplayAmount()) // $10.00
package stripesync

package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/andrewpillar/stripesync"

	_ "github.com/lib/pq"

	"github.com/prometheus/client_golang/prometheus"

	"go.uber.org/zap"
)

type flags struct {
	limit           int
	save            bool
	skip            string
	includeInactive bool
	currency        string
	product         string
	typ             string
	dashboardOnly   bool
	email           string
	created         string
	includeDeleted  bool
	noLinkUsers     bool
	status          string
	customer        string
	ids             string
	detailed        bool
	serve           bool
}

type env struct {
	cfg      stripesync.Config
	log      *zap.Logger
	db       *sql.DB
	client   stripesync.Client
	syncer   *stripesync.Syncer
	registry *prometheus.Registry
}

func parseFlags(args []string) (flags, []string, error) {
	var f flags

	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: %s [flags] [entity...]\n\nentities:", os.Args[0])

		for _, e := range stripesync.Entities() {
			fmt.Fprintf(fs.Output(), " %s", e.Name)
		}
		fmt.Fprint(fs.Output(), "\n\nflags:\n")
		fs.PrintDefaults()
	}

	fs.IntVar(&f.limit, "limit", stripesync.MaxPageSize, "maximum records per entity, -1 for all")
	fs.BoolVar(&f.save, "save", false, "save the records, otherwise they are only shown")
	fs.StringVar(&f.skip, "skip", "", "comma separated entities to skip")
	fs.BoolVar(&f.includeInactive, "include-inactive", false, "include inactive records")
	fs.StringVar(&f.currency, "currency", "", "only prices in the given currency")
	fs.StringVar(&f.product, "product", "", "only prices of the given product")
	fs.StringVar(&f.typ, "type", "", "only prices of the given type, one_time or recurring")
	fs.BoolVar(&f.dashboardOnly, "dashboard-only", false, "only prices shown on the dashboard")
	fs.StringVar(&f.email, "email", "", "only customers with the given email")
	fs.StringVar(&f.created, "created", "", "only customers created since the given date, YYYY-MM-DD")
	fs.BoolVar(&f.includeDeleted, "include-deleted", false, "include deleted customers")
	fs.BoolVar(&f.noLinkUsers, "no-link-users", false, "do not link customers to users by email")
	fs.StringVar(&f.status, "status", "", "only meters or invoices with the given status")
	fs.StringVar(&f.customer, "customer", "", "only invoices of the given customer")
	fs.StringVar(&f.ids, "ids", "", "file of ids to sync, one per line")
	fs.BoolVar(&f.detailed, "detailed", false, "show the failed records of each entity")
	fs.BoolVar(&f.serve, "serve", false, "serve webhook events instead of syncing")

	if err := fs.Parse(args); err != nil {
		return f, nil, err
	}
	return f, fs.Args(), nil
}

func (f flags) options() (stripesync.Options, error) {
	o := stripesync.Options{
		Limit:           f.limit,
		Save:            f.save,
		IncludeInactive: f.includeInactive,
		Currency:        f.currency,
		Product:         f.product,
		Type:            f.typ,
		DashboardOnly:   f.dashboardOnly,
		Email:           f.email,
		IncludeDeleted:  f.includeDeleted,
		NoLinkUsers:     f.noLinkUsers,
		Status:          f.status,
		Customer:        f.customer,
	}

	if f.created != "" {
		t, err := time.Parse("2006-01-02", f.created)

		if err != nil {
			return o, fmt.Errorf("invalid -created date %q, expected YYYY-MM-DD", f.created)
		}
		o.CreatedSince = t
	}

	if f.ids != "" {
		fh, err := os.Open(f.ids)

		if err != nil {
			return o, err
		}

		defer fh.Close()

		o.IDs, err = stripesync.ReadIDs(fh)

		if err != nil {
			return o, err
		}
	}
	return o, nil
}

// entities returns the entities named in the given arguments, or every
// entity if none are named, without those that are skipped.
func entities(args []string, skip string) ([]stripesync.Entity, error) {
	skipped := make(map[string]struct{})

	for _, name := range strings.Split(skip, ",") {
		if name = strings.TrimSpace(name); name != "" {
			if _, ok := stripesync.EntityByName(name); !ok {
				return nil, errors.New("unknown entity: " + name)
			}
			skipped[name] = struct{}{}
		}
	}

	ee := stripesync.Entities()

	if len(args) > 0 {
		ee = ee[:0:0]

		for _, name := range args {
			e, ok := stripesync.EntityByName(name)

			if !ok {
				return nil, errors.New("unknown entity: " + name)
			}
			ee = append(ee, e)
		}
	}

	filtered := make([]stripesync.Entity, 0, len(ee))

	for _, e := range ee {
		if _, ok := skipped[e.Name]; !ok {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

func setup(cfg stripesync.Config, save bool) (*env, error) {
	log, err := cfg.Logger()

	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()

	metrics, err := stripesync.NewMetrics(reg)

	if err != nil {
		return nil, err
	}

	burst := int(cfg.RateLimit)

	if burst < 1 {
		burst = 1
	}

	e := &env{
		cfg: cfg,
		log: log,
		client: stripesync.NewClient(
			cfg.APIVersion,
			cfg.Secret,
			stripesync.WithRetry(cfg.RetryPolicy()),
			stripesync.WithRateLimit(cfg.RateLimit, burst),
			stripesync.WithClientLogger(log),
		),
		registry: reg,
	}

	var store stripesync.Store = discard{}

	if save {
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL not set")
		}

		db, err := sql.Open("postgres", cfg.DatabaseURL)

		if err != nil {
			return nil, err
		}

		if err := db.Ping(); err != nil {
			db.Close()
			return nil, err
		}

		e.db = db
		store = stripesync.PSQL{DB: db}
	}

	e.syncer = stripesync.New(
		e.client,
		store,
		stripesync.WithLogger(log),
		stripesync.WithMetrics(metrics),
		stripesync.WithPageSize(cfg.BatchSize),
		stripesync.WithUsersTable(cfg.UsersTable),
	)
	return e, nil
}

func (e *env) Close() {
	if e.db != nil {
		e.db.Close()
	}
	e.log.Sync()
}

func run(args []string) int {
	f, rest, err := parseFlags(args)

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := stripesync.LoadConfig()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	o, err := f.options()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ee, err := entities(rest, f.skip)

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	e, err := setup(cfg, f.save || f.serve)

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	defer e.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	acct, err := e.client.Account(ctx)

	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to retrieve stripe account:", err)
		return 1
	}

	e.log.Info("stripe account", zap.String("id", acct.ID), zap.String("country", acct.Country))

	if f.serve {
		if err := serve(ctx, e); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}

	fmt.Printf("account %s (%s)\n\n", acct.ID, acct.Email)

	runs, err := e.syncer.SyncAll(ctx, ee, o)

	report(os.Stdout, ee, runs, o, f.detailed)

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	for _, r := range runs {
		if !r.Succeeded() {
			return 1
		}
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:]))
}

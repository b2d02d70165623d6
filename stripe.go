package stripesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/stripe/stripe-go/v72"

	"go.uber.org/zap"

	"golang.org/x/time/rate"
)

// MaxPageSize is the largest page the Stripe list endpoints will return.
const MaxPageSize = 100

// DefaultAPIVersion is the Stripe API version requests are pinned to when no
// other version is configured.
const DefaultAPIVersion = "2024-06-20"

// Source is a paginated provider of raw Stripe records. Each record is kept as
// the raw JSON that was received so that the projection of a record can be
// shared between list results, single retrievals, and webhook payloads.
type Source interface {
	// List returns a single page of records from the given endpoint. The page
	// size is clamped to MaxPageSize.
	List(ctx context.Context, req ListRequest) (Page, error)

	// Retrieve returns the single record of the given ID from the endpoint. If
	// the record does not exist then ErrNotFound is returned.
	Retrieve(ctx context.Context, endpoint, id string, params Params) (json.RawMessage, error)
}

// ListRequest describes a single page request made against a list endpoint.
type ListRequest struct {
	Endpoint string
	Params   Params
	Cursor   string // Cursor is sent as starting_after when not empty.
	Limit    int
}

// Page is a single page of a list response.
type Page struct {
	Data    []json.RawMessage `json:"data"`
	HasMore bool              `json:"has_more"`
}

// RetryPolicy is the number of attempts made for a single request, and the
// fixed delay between each attempt.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// Client is a simple HTTP client for the Stripe API. This can be configured to
// use specific version of the Stripe API. Each request made via this client
// will be automatically configured to talk to the Stripe API with the
// necessary headers, throttled, and retried when the failure is transient.
type Client struct {
	http.Client

	secret   string
	endpoint string
	version  string
	limiter  *rate.Limiter
	retry    RetryPolicy
	log      *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// Account is the subset of the Stripe account used to check a connection.
type Account struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	Country         string `json:"country"`
	DefaultCurrency string `json:"default_currency"`
	ChargesEnabled  bool   `json:"charges_enabled"`
}

// Error is an error returned from the Stripe API. The error body is decoded
// into the embedded stripe.Error, and the HTTP status is used to classify the
// error as one of the sentinel errors below.
type Error struct {
	Status int          `json:"-"`
	Err    stripe.Error `json:"error"`
}

type pair struct {
	key   string
	value interface{}
}

// Params is used for defining the parameters that are passed in the query
// string of a request made to the Stripe API. This will be encoded into a
// valid x-www-form-urlencoded string.
type Params map[string]interface{}

var (
	_ Source = (*Client)(nil)

	// DefaultRetryPolicy makes 3 attempts with a 5 second delay between each.
	DefaultRetryPolicy = RetryPolicy{
		Attempts: 3,
		Delay:    5 * time.Second,
	}

	// ErrAuthentication denotes that the API key was rejected. This is fatal
	// for a whole sync.
	ErrAuthentication = errors.New("authentication failed")

	// ErrRateLimited denotes that Stripe throttled the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrTransient denotes a network failure, or a server side failure.
	ErrTransient = errors.New("transient failure")

	// ErrValidation denotes that Stripe rejected the request itself, for
	// example when the account does not support the feature being queried.
	// This is fatal for the entity being synced.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound denotes that the requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// encodeSliceToPairs will encode an arbitrary slice of values into a slice of
// pairs. It is expected for the given reflect.Value to be a of reflect.Slice.
// The given key denotes the key in the original parameter set for which the
// slice belongs to. Each pair encoded will have a key of key[i] where key is
// the passed key argument, and i is of the pair's value in the slice.
func encodeSliceToPairs(key string, val reflect.Value) []pair {
	pairs := make([]pair, 0)

	for i := 0; i < val.Len(); i++ {
		k := key + "[" + strconv.FormatInt(int64(i), 10) + "]"
		v := val.Index(i).Interface()

		if p, ok := v.(Params); ok {
			pairs = append(pairs, p.encodeToPairs(k)...)
			continue
		}
		pairs = append(pairs, pair{
			key:   k,
			value: v,
		})
	}
	return pairs
}

func respCode2xx(code int) bool { return code >= 200 && code < 300 }

// WithEndpoint sets the base URL of the API, this defaults to stripe.APIURL.
func WithEndpoint(endpoint string) ClientOption {
	return func(c *Client) {
		c.endpoint = strings.TrimSuffix(endpoint, "/")
	}
}

// WithRateLimit throttles the client to the given number of requests per
// second. A limit of zero or less disables throttling.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}

		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry sets the retry policy used for each request.
func WithRetry(p RetryPolicy) ClientOption {
	return func(c *Client) {
		if p.Attempts < 1 {
			p.Attempts = 1
		}
		c.retry = p
	}
}

// WithClientLogger sets the logger used to report retried requests.
func WithClientLogger(log *zap.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient configures a new Client for interfacing with the Stripe API using
// the given version, and secret for authentication.
func NewClient(version, secret string, opts ...ClientOption) Client {
	if version == "" {
		version = DefaultAPIVersion
	}

	c := Client{
		Client: http.Client{
			Timeout: 80 * time.Second,
		},
		secret:   secret,
		endpoint: stripe.APIURL,
		version:  version,
		limiter:  rate.NewLimiter(rate.Limit(25), 25),
		retry:    DefaultRetryPolicy,
		log:      zap.NewNop(),
	}

	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (e *Error) Error() string {
	msg := e.Err.Msg

	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("stripe api error %d: %s", e.Status, msg)
}

// Unwrap returns the sentinel error the status of the error maps to.
func (e *Error) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized, e.Status == http.StatusForbidden:
		return ErrAuthentication
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	case e.Status == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.Status >= 500, e.Status == http.StatusConflict:
		return ErrTransient
	default:
		return ErrValidation
	}
}

// retryable reports whether the given error warrants another attempt.
func retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}

func (p pair) encode() string { return p.key + "=" + url.QueryEscape(fmt.Sprintf("%v", p.value)) }

func (p Params) encodeToPairs(parent string) []pair {
	pairs := make([]pair, 0)

	for k, v := range p {
		if parent != "" {
			k = parent + "[" + k + "]"
		}

		if v == nil {
			continue
		}

		if p1, ok := v.(Params); ok {
			pairs = append(pairs, p1.encodeToPairs(k)...)
			continue
		}

		if reflect.TypeOf(v).Kind() == reflect.Slice {
			pairs = append(pairs, encodeSliceToPairs(k, reflect.ValueOf(v))...)
			continue
		}
		pairs = append(pairs, pair{
			key:   k,
			value: v,
		})
	}
	return pairs
}

// Encode encodes the current Params into an x-www-form-urlencoded string and
// returns it.
func (p Params) Encode() string {
	pairs := make([]string, 0)

	for _, pair := range p.encodeToPairs("") {
		pairs = append(pairs, pair.encode())
	}

	sort.Strings(pairs)
	return strings.Join(pairs, "&")
}

// Copy returns a shallow copy of the current Params.
func (p Params) Copy() Params {
	p1 := make(Params, len(p))

	for k, v := range p {
		p1[k] = v
	}
	return p1
}

func (c Client) do(ctx context.Context, method, uri string, r io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+uri, r)

	if err != nil {
		return nil, err
	}

	contentType := map[string]string{
		"POST":   "application/x-www-form-urlencoded",
		"GET":    "application/json; charset=utf-8",
		"DELETE": "application/json; charset=utf-8",
	}

	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Content-Type", contentType[method])
	req.Header.Set("Stripe-Version", c.version)

	return c.Do(req)
}

// Error decodes an error from the Stripe API from the given http.Response and
// returns it as a pointer to Error. If the body cannot be decoded then the
// returned Error will only carry the status.
func (c Client) Error(resp *http.Response) error {
	e := &Error{
		Status: resp.StatusCode,
	}

	json.NewDecoder(resp.Body).Decode(e)
	return e
}

// Get will send a GET request to the given URI of the Stripe API and return the
// response body. Requests that fail with a transient error, or are rate
// limited are retried as per the Client's RetryPolicy.
func (c Client) Get(ctx context.Context, uri string) ([]byte, error) {
	var body []byte

	op := func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		resp, err := c.do(ctx, "GET", uri, nil)

		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("%w: %s", ErrTransient, err)
		}

		defer resp.Body.Close()

		if !respCode2xx(resp.StatusCode) {
			err := c.Error(resp)

			if retryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		body, err = io.ReadAll(resp.Body)

		if err != nil {
			return fmt.Errorf("%w: %s", ErrTransient, err)
		}
		return nil
	}

	attempts := c.retry.Attempts

	if attempts < 1 {
		attempts = 1
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retry.Delay), uint64(attempts-1)),
		ctx,
	)

	notify := func(err error, d time.Duration) {
		c.log.Warn("retrying stripe request", zap.String("uri", uri), zap.Duration("delay", d), zap.Error(err))
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	return body, nil
}

// List implements the Source interface.
func (c Client) List(ctx context.Context, req ListRequest) (Page, error) {
	var page Page

	params := req.Params.Copy()

	limit := req.Limit

	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}

	params["limit"] = limit

	if req.Cursor != "" {
		params["starting_after"] = req.Cursor
	}

	b, err := c.Get(ctx, req.Endpoint+"?"+params.Encode())

	if err != nil {
		return page, err
	}

	if err := json.Unmarshal(b, &page); err != nil {
		return page, fmt.Errorf("decode %s page: %w", req.Endpoint, err)
	}
	return page, nil
}

// Retrieve implements the Source interface.
func (c Client) Retrieve(ctx context.Context, endpoint, id string, params Params) (json.RawMessage, error) {
	uri := endpoint + "/" + url.PathEscape(id)

	if len(params) > 0 {
		uri += "?" + params.Encode()
	}

	b, err := c.Get(ctx, uri)

	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// Account retrieves the account the Client's secret belongs to. This is used
// as a check for whether the Client can talk to Stripe at all.
func (c Client) Account(ctx context.Context) (Account, error) {
	var a Account

	b, err := c.Get(ctx, "/v1/account")

	if err != nil {
		return a, err
	}

	err = json.Unmarshal(b, &a)
	return a, err
}

package stripesync

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"
)

// HookHandlerFunc is the handler function that is registered agains an event.
// This is like an http.HandlerFunc, only the first argument it is passed is
// the decoded event sent from stripe. This is called after the event has been
// applied.
type HookHandlerFunc func(stripe.Event, http.ResponseWriter, *http.Request)

// HookHandler receives the webhook events sent by Stripe, and applies them
// via a Syncer.
type HookHandler struct {
	mu     sync.RWMutex
	errh   func(error)
	secret string
	syncer *Syncer
	events map[string]HookHandlerFunc
}

// maxPayload is the largest webhook payload that will be read.
const maxPayload = 1 << 20

// NewHookHandler returns a HookHandler using the given secret for request
// verification, the given Syncer for applying events, and the given callback
// for handling any errors that occur.
func NewHookHandler(secret string, s *Syncer, errh func(error)) *HookHandler {
	if errh == nil {
		errh = func(error) {}
	}

	return &HookHandler{
		mu:     sync.RWMutex{},
		errh:   errh,
		secret: secret,
		syncer: s,
		events: make(map[string]HookHandlerFunc),
	}
}

// Handle registers a new handler for the given event. If a handler was
// already registered against the given event, then that handler will be
// overwritten with the new handler.
func (h *HookHandler) Handle(event string, fn HookHandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[event] = fn
}

// HandlerFunc should be registered in the route multiplexer being used to
// register routes in the web server. For example,
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("/stripe-hook", hook.HandlerFunc)
//
// this would cause the HookHandler to handle all of the requests sent to the
// "/stripe-hook" endpoint. Each event is applied before it is logged, so an
// event that could not be applied is answered with 500 and will be sent again
// by Stripe. Applying an event twice converges on the same state, an event
// that was already logged is answered with 202 Accepted.
func (h *HookHandler) HandlerFunc(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayload))

	if err != nil {
		h.errh(err)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	if err := webhook.ValidatePayload(payload, r.Header.Get("Stripe-Signature"), h.secret); err != nil {
		h.errh(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var event stripe.Event

	if err := json.Unmarshal(payload, &event); err != nil {
		h.errh(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	if h.syncer != nil {
		if err := h.syncer.Apply(ctx, EventFromStripe(event)); err != nil {
			h.errh(err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		if err := h.syncer.LogEvent(ctx, event.ID); err != nil {
			if !errors.Is(err, ErrEventExists) {
				h.errh(err)
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusAccepted)
			return
		}
	}

	h.mu.RLock()
	fn, ok := h.events[event.Type]
	h.mu.RUnlock()

	if ok {
		fn(event, w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
}

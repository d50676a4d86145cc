package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/platform/observability"
	"github.com/hanko-field/checkout/internal/platform/requestctx"
	"github.com/hanko-field/checkout/internal/services"
)

const maxCheckoutRequestBody = 16 * 1024

// sessionRegistry abstracts services.SessionRegistry for the handlers.
type sessionRegistry interface {
	Create(ctx context.Context, initial domain.CheckoutInput) (*services.CheckoutSession, error)
	Get(id string) (*services.CheckoutSession, error)
	Close(ctx context.Context, id string) error
	Countries(ctx context.Context) ([]domain.Country, error)
}

// CheckoutSessionHandlers exposes the checkout session API driven by the UI shell.
type CheckoutSessionHandlers struct {
	sessions sessionRegistry
}

// NewCheckoutSessionHandlers constructs checkout session handlers.
func NewCheckoutSessionHandlers(sessions sessionRegistry) *CheckoutSessionHandlers {
	return &CheckoutSessionHandlers{sessions: sessions}
}

// Routes registers checkout session endpoints under the provided router.
func (h *CheckoutSessionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/countries", h.listCountries)
	r.Post("/sessions", h.createSession)
	r.Route("/sessions/{sessionId}", func(session chi.Router) {
		session.Get("/", h.getSession)
		session.Delete("/", h.closeSession)
		session.Patch("/form", h.updateForm)
		session.Put("/addresses/{slot}/country", h.setCountry)
		session.Get("/addresses/{slot}/regions", h.getRegions)
		session.Post("/submit", h.submit)
	})
}

type sessionInputRequest struct {
	Billing                      map[string]string `json:"billing"`
	Shipping                     map[string]string `json:"shipping"`
	CreateAccount                *bool             `json:"createAccount"`
	BillingDifferentThanShipping *bool             `json:"billingDifferentThanShipping"`
	OrderNotes                   *string           `json:"orderNotes"`
	PaymentMethod                *string           `json:"paymentMethod"`
}

type countryRequest struct {
	Country string `json:"country"`
}

type countriesResponse struct {
	BillingCountries  []domain.Country `json:"billingCountries"`
	ShippingCountries []domain.Country `json:"shippingCountries"`
}

func (h *CheckoutSessionHandlers) listCountries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	countries, err := h.sessions.Countries(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("countries_unavailable", "country catalogue unavailable", http.StatusBadGateway))
		return
	}
	if countries == nil {
		countries = []domain.Country{}
	}
	writeJSONResponse(w, http.StatusOK, countriesResponse{
		BillingCountries:  countries,
		ShippingCountries: countries,
	})
}

func (h *CheckoutSessionHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req sessionInputRequest
	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	switch {
	case errors.Is(err, errEmptyBody):
	case err != nil:
		writeBodyError(ctx, w, err)
		return
	default:
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	initial, err := req.toInput()
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	session, err := h.sessions.Create(ctx, initial)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("session_unavailable", "checkout session could not be created", http.StatusInternalServerError))
		return
	}
	observability.RecordSession(w, session.ID())
	writeJSONResponse(w, http.StatusCreated, session.View())
}

func (h *CheckoutSessionHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	session, _, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, session.View())
}

func (h *CheckoutSessionHandlers) closeSession(w http.ResponseWriter, r *http.Request) {
	_, ctx, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Close(ctx, chi.URLParam(r, "sessionId")); err != nil {
		h.writeSessionError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CheckoutSessionHandlers) updateForm(w http.ResponseWriter, r *http.Request) {
	session, ctx, ok := h.lookup(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req sessionInputRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if err := req.validateFields(); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	form := session.Form()
	if req.BillingDifferentThanShipping != nil {
		form.SetBillingDifferentThanShipping(ctx, *req.BillingDifferentThanShipping)
	}
	if req.CreateAccount != nil {
		form.SetCreateAccount(*req.CreateAccount)
	}
	if req.OrderNotes != nil {
		form.SetOrderNotes(*req.OrderNotes)
	}
	if req.PaymentMethod != nil {
		form.SetPaymentMethod(*req.PaymentMethod)
	}
	for _, field := range sortedKeys(req.Shipping) {
		form.SetField(ctx, domain.SlotShipping, field, req.Shipping[field])
	}
	for _, field := range sortedKeys(req.Billing) {
		form.SetField(ctx, domain.SlotBilling, field, req.Billing[field])
	}

	writeJSONResponse(w, http.StatusOK, session.View())
}

func (h *CheckoutSessionHandlers) setCountry(w http.ResponseWriter, r *http.Request) {
	session, ctx, ok := h.lookup(w, r)
	if !ok {
		return
	}
	slot, ok := slotParam(ctx, w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req countryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	session.Form().SetCountry(ctx, slot, req.Country)
	writeJSONResponse(w, http.StatusAccepted, session.View())
}

func (h *CheckoutSessionHandlers) getRegions(w http.ResponseWriter, r *http.Request) {
	session, ctx, ok := h.lookup(w, r)
	if !ok {
		return
	}
	slot, ok := slotParam(ctx, w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, session.Regions().State(slot))
}

func (h *CheckoutSessionHandlers) submit(w http.ResponseWriter, r *http.Request) {
	session, ctx, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if _, err := session.Orchestrator().Submit(ctx); err != nil {
		h.writeSubmitError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, session.View())
}

func (h *CheckoutSessionHandlers) lookup(w http.ResponseWriter, r *http.Request) (*services.CheckoutSession, context.Context, bool) {
	ctx := r.Context()
	id := strings.TrimSpace(chi.URLParam(r, "sessionId"))
	if id == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "sessionId is required", http.StatusBadRequest))
		return nil, ctx, false
	}
	session, err := h.sessions.Get(id)
	if err != nil {
		h.writeSessionError(ctx, w, err)
		return nil, ctx, false
	}
	observability.RecordSession(w, session.ID())
	return session, requestctx.WithSessionID(ctx, session.ID()), true
}

func (h *CheckoutSessionHandlers) writeSessionError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("session_not_found", "checkout session not found", http.StatusNotFound))
	case errors.Is(err, services.ErrSessionClosed):
		httpx.WriteError(ctx, w, httpx.NewError("session_closed", "checkout session is closed", http.StatusGone))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}

func (h *CheckoutSessionHandlers) writeSubmitError(ctx context.Context, w http.ResponseWriter, err error) {
	var validationErr *services.ValidationError
	var submissionErr *services.SubmissionError
	switch {
	case errors.As(err, &validationErr):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_address", "address fields are invalid", http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"fields": validationErr.Fields()}))
	case errors.Is(err, services.ErrSubmissionInProgress):
		httpx.WriteError(ctx, w, httpx.NewError("submission_in_progress", "an order is already being placed", http.StatusConflict))
	case errors.As(err, &submissionErr) && errors.Is(err, services.ErrSessionClosed):
		h.writeSessionError(ctx, w, services.ErrSessionClosed)
	case errors.As(err, &submissionErr) && errors.Is(err, services.ErrCheckoutCartNotReady):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_ready", submissionErr.Message, http.StatusConflict).
			WithDetails(map[string]any{"attemptId": submissionErr.AttemptID}))
	case errors.As(err, &submissionErr):
		httpx.WriteError(ctx, w, httpx.NewError("submission_failed", submissionErr.Message, http.StatusBadGateway).
			WithDetails(map[string]any{"attemptId": submissionErr.AttemptID}))
	default:
		h.writeSessionError(ctx, w, err)
	}
}

func (req sessionInputRequest) validateFields() error {
	for _, fields := range []map[string]string{req.Billing, req.Shipping} {
		for field := range fields {
			if _, ok := (domain.AddressRecord{}).Field(field); !ok {
				return fmt.Errorf("unknown address field %q", field)
			}
		}
	}
	return nil
}

func (req sessionInputRequest) toInput() (domain.CheckoutInput, error) {
	if err := req.validateFields(); err != nil {
		return domain.CheckoutInput{}, err
	}
	var input domain.CheckoutInput
	for field, value := range req.Billing {
		input.Billing, _ = input.Billing.WithField(field, value)
	}
	for field, value := range req.Shipping {
		input.Shipping, _ = input.Shipping.WithField(field, value)
	}
	if req.CreateAccount != nil {
		input.CreateAccount = *req.CreateAccount
	}
	if req.BillingDifferentThanShipping != nil {
		input.BillingDifferentThanShipping = *req.BillingDifferentThanShipping
	}
	if req.OrderNotes != nil {
		input.OrderNotes = *req.OrderNotes
	}
	if req.PaymentMethod != nil {
		input.PaymentMethod = strings.TrimSpace(*req.PaymentMethod)
	}
	return input, nil
}

func slotParam(ctx context.Context, w http.ResponseWriter, r *http.Request) (domain.Slot, bool) {
	slot := domain.Slot(strings.ToLower(strings.TrimSpace(chi.URLParam(r, "slot"))))
	if !slot.Valid() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "slot must be billing or shipping", http.StatusBadRequest))
		return "", false
	}
	return slot, true
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, errBodyTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

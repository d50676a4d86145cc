package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/hanko-field/checkout/internal/domain"
)

const (
	defaultSubmissionTimeout = 20 * time.Second
	// DefaultGenericErrorMessage is shown when a failure carries no usable message of its own.
	DefaultGenericErrorMessage = "We could not place your order. Please try again."
	emptyCartMessage           = "Your cart is empty."

	submitOutcomeInvalid    = "invalid"
	submitOutcomeBusy       = "in_progress"
	submitOutcomeEmptyCart  = "cart_not_ready"
	submitOutcomeFailed     = "failed"
	submitOutcomeSucceeded  = "succeeded"
	submitOutcomeTimeout    = "timeout"
	submitOutcomeTerminated = "session_closed"
)

// checkoutForm is the part of FormStore the orchestrator reads and reports errors into.
type checkoutForm interface {
	Snapshot() domain.CheckoutInput
	ApplyValidationErrors(billing, shipping map[string]string) domain.CheckoutInput
}

// CheckoutOrchestratorDeps wires the collaborators of one session's orchestrator.
type CheckoutOrchestratorDeps struct {
	Form                checkoutForm
	Cart                CartService
	Checkout            CheckoutService
	Events              OrderEventPublisher
	Clock               func() time.Time
	IDGenerator         func() string
	Logger              func(ctx context.Context, event string, fields map[string]any)
	Timeout             time.Duration
	GenericErrorMessage string
}

// CheckoutOrchestrator runs the submission state machine for one checkout session. At most one
// attempt is in flight; the checkout service is called at most once per attempt.
type CheckoutOrchestrator struct {
	form      checkoutForm
	cart      CartService
	checkout  CheckoutService
	events    OrderEventPublisher
	now       func() time.Time
	newID     func() string
	logger    func(ctx context.Context, event string, fields map[string]any)
	timeout   time.Duration
	generic   string
	tracer    trace.Tracer
	submitted metric.Int64Counter

	base context.Context
	stop context.CancelFunc

	mu      sync.Mutex
	status  domain.SubmissionStatus
	attempt *domain.SubmissionAttempt
	closed  bool
}

// NewCheckoutOrchestrator constructs an orchestrator validating required dependencies.
func NewCheckoutOrchestrator(deps CheckoutOrchestratorDeps) (*CheckoutOrchestrator, error) {
	if deps.Form == nil {
		return nil, errors.New("checkout orchestrator: form store is required")
	}
	if deps.Cart == nil {
		return nil, errors.New("checkout orchestrator: cart service is required")
	}
	if deps.Checkout == nil {
		return nil, errors.New("checkout orchestrator: checkout service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultSubmissionTimeout
	}
	generic := strings.TrimSpace(deps.GenericErrorMessage)
	if generic == "" {
		generic = DefaultGenericErrorMessage
	}

	submitted, err := otel.GetMeterProvider().Meter(instrumentationName).Int64Counter(
		"checkout.submissions",
		metric.WithDescription("Checkout submissions by outcome"),
	)
	if err != nil {
		return nil, err
	}

	base, stop := context.WithCancel(context.Background())
	return &CheckoutOrchestrator{
		form:     deps.Form,
		cart:     deps.Cart,
		checkout: deps.Checkout,
		events:   deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		logger:    logger,
		timeout:   timeout,
		generic:   generic,
		tracer:    otel.Tracer(instrumentationName),
		submitted: submitted,
		base:      base,
		stop:      stop,
		status:    domain.SubmissionIdle,
	}, nil
}

// Submit validates the form, builds the order payload and places the order, returning the
// settled attempt. Invalid input returns a *ValidationError and leaves no attempt behind.
// Failed attempts return a *SubmissionError carrying the user-facing message. A call made while
// another attempt is in flight returns ErrSubmissionInProgress without side effects.
//
// Cancelling ctx does not abort a submission already sent; closing the orchestrator does.
func (o *CheckoutOrchestrator) Submit(ctx context.Context) (domain.SubmissionAttempt, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return domain.SubmissionAttempt{}, ErrSessionClosed
	}
	if o.status.InFlight() {
		current := o.currentLocked()
		o.mu.Unlock()
		o.record(ctx, submitOutcomeBusy)
		return current, ErrSubmissionInProgress
	}
	o.status = domain.SubmissionValidating
	o.mu.Unlock()

	ctx, span := o.tracer.Start(ctx, "checkout.submit")
	defer span.End()

	input := o.form.Snapshot()
	shipping := ValidateAddress(input.Shipping)
	billing := ValidateAddress(input.EffectiveBilling())
	if shipping.Sanitized.HasErrors() || billing.Sanitized.HasErrors() {
		var billingErrs map[string]string
		if input.BillingDifferentThanShipping {
			billingErrs = billing.Errors
		}
		o.form.ApplyValidationErrors(billingErrs, shipping.Errors)
		o.setStatus(domain.SubmissionIdle)

		verr := newValidationError(billingErrs, shipping.Errors)
		span.SetAttributes(attribute.String("checkout.outcome", submitOutcomeInvalid))
		o.record(ctx, submitOutcomeInvalid)
		o.logger(ctx, "checkout.submit.invalid", map[string]any{"fields": verr.Fields()})
		return domain.SubmissionAttempt{Status: domain.SubmissionIdle}, verr
	}
	o.form.ApplyValidationErrors(nil, nil)

	attempt := domain.SubmissionAttempt{
		ID:        o.newID(),
		Status:    domain.SubmissionBuildingPayload,
		StartedAt: o.now(),
	}
	o.publish(attempt)
	span.SetAttributes(attribute.String("checkout.attempt_id", attempt.ID))

	cart, ok := o.cart.Snapshot()
	if !ok || cart.Empty() {
		return o.fail(ctx, span, attempt, emptyCartMessage, submitOutcomeEmptyCart, ErrCheckoutCartNotReady)
	}

	payload := buildOrderPayload(input, billing.Sanitized, shipping.Sanitized, cart, o.newID())
	attempt.Payload = &payload
	attempt.Status = domain.SubmissionSubmitting
	if !o.publish(attempt) {
		return o.fail(ctx, span, attempt, o.generic, submitOutcomeTerminated, ErrSessionClosed)
	}

	submitCtx, cancel := o.detached(ctx, o.timeout)
	confirmation, err := o.checkout.SubmitOrder(submitCtx, payload)
	cancel()
	if err != nil {
		switch {
		case o.base.Err() != nil:
			return o.fail(ctx, span, attempt, o.generic, submitOutcomeTerminated, errors.Join(ErrSessionClosed, err))
		case errors.Is(err, context.DeadlineExceeded):
			return o.fail(ctx, span, attempt, o.generic, submitOutcomeTimeout, err)
		default:
			return o.fail(ctx, span, attempt, o.failureMessage(err), submitOutcomeFailed, err)
		}
	}

	if o.base.Err() == nil {
		refreshCtx, cancelRefresh := o.detached(ctx, o.timeout)
		if _, err := o.cart.RefreshCart(refreshCtx); err != nil {
			o.logger(ctx, "checkout.cart_refresh.failed", map[string]any{
				"attemptId": attempt.ID,
				"error":     err.Error(),
			})
		}
		cancelRefresh()
		o.announce(ctx, attempt, payload, cart, confirmation)
	}

	attempt.Status = domain.SubmissionSucceeded
	attempt.Confirmation = &confirmation
	attempt.SettledAt = o.now()
	o.publish(attempt)

	span.SetAttributes(
		attribute.String("checkout.outcome", submitOutcomeSucceeded),
		attribute.String("checkout.order_id", confirmation.OrderID),
	)
	span.SetStatus(codes.Ok, submitOutcomeSucceeded)
	o.record(ctx, submitOutcomeSucceeded)
	o.logger(ctx, "checkout.submit.succeeded", map[string]any{
		"attemptId": attempt.ID,
		"orderId":   confirmation.OrderID,
	})
	return attempt.Clone(), nil
}

// Attempt returns the current or most recent attempt, false when none has started.
func (o *CheckoutOrchestrator) Attempt() (domain.SubmissionAttempt, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.attempt == nil {
		return domain.SubmissionAttempt{}, false
	}
	return o.attempt.Clone(), true
}

// Status returns the state machine position.
func (o *CheckoutOrchestrator) Status() domain.SubmissionStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Processing reports whether an order is being assembled or sent.
func (o *CheckoutOrchestrator) Processing() bool {
	status := o.Status()
	return status == domain.SubmissionBuildingPayload || status == domain.SubmissionSubmitting
}

// Close aborts any in-flight submission. A cart refresh is never started after Close.
func (o *CheckoutOrchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.stop()
}

func (o *CheckoutOrchestrator) fail(ctx context.Context, span trace.Span, attempt domain.SubmissionAttempt, message, outcome string, cause error) (domain.SubmissionAttempt, error) {
	attempt.Status = domain.SubmissionFailed
	attempt.ErrorMessage = message
	attempt.SettledAt = o.now()
	o.publish(attempt)

	span.SetAttributes(attribute.String("checkout.outcome", outcome))
	span.RecordError(cause)
	span.SetStatus(codes.Error, outcome)
	o.record(ctx, outcome)
	o.logger(ctx, "checkout.submit.failed", map[string]any{
		"attemptId": attempt.ID,
		"outcome":   outcome,
		"error":     cause.Error(),
	})
	return attempt.Clone(), &SubmissionError{AttemptID: attempt.ID, Message: message, Err: cause}
}

func (o *CheckoutOrchestrator) failureMessage(err error) string {
	var remote *domain.RemoteError
	if errors.As(err, &remote) {
		if msg := remote.FirstMessage(); msg != "" {
			return msg
		}
	}
	return o.generic
}

// announce publishes the order-placed event. Failures are logged only.
func (o *CheckoutOrchestrator) announce(ctx context.Context, attempt domain.SubmissionAttempt, payload domain.OrderPayload, cart domain.CartSnapshot, confirmation domain.OrderConfirmation) {
	if o.events == nil {
		return
	}
	placedAt := confirmation.PlacedAt
	if placedAt.IsZero() {
		placedAt = o.now()
	}
	currency := confirmation.Currency
	if currency == "" {
		currency = cart.Currency
	}
	event := OrderPlacedEvent{
		AttemptID:              attempt.ID,
		ClientMutationID:       payload.ClientMutationID,
		OrderID:                confirmation.OrderID,
		OrderNumber:            confirmation.OrderNumber,
		Status:                 confirmation.Status,
		Total:                  confirmation.Total,
		Currency:               currency,
		PaymentMethod:          payload.PaymentMethod,
		CartID:                 payload.CartID,
		ItemCount:              cart.ItemCount(),
		ShippingCountry:        payload.Shipping.Country,
		ShipToDifferentAddress: payload.ShipToDifferentAddress,
		PlacedAt:               placedAt,
	}

	publishCtx, cancel := o.detached(ctx, o.timeout)
	defer cancel()
	if _, err := o.events.PublishOrderPlaced(publishCtx, event); err != nil {
		o.logger(ctx, "checkout.event.publish_failed", map[string]any{
			"attemptId": attempt.ID,
			"orderId":   confirmation.OrderID,
			"error":     err.Error(),
		})
	}
}

// detached derives a context that keeps ctx's values, ignores its cancellation, and ends on
// timeout or when the orchestrator is closed.
func (o *CheckoutOrchestrator) detached(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	child, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	stopAfter := context.AfterFunc(o.base, cancel)
	return child, func() {
		stopAfter()
		cancel()
	}
}

// publish installs attempt as the current one and mirrors its status. It reports false when
// the orchestrator has been closed.
func (o *CheckoutOrchestrator) publish(attempt domain.SubmissionAttempt) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	stored := attempt.Clone()
	o.attempt = &stored
	o.status = attempt.Status
	return !o.closed
}

func (o *CheckoutOrchestrator) setStatus(status domain.SubmissionStatus) {
	o.mu.Lock()
	o.status = status
	o.mu.Unlock()
}

func (o *CheckoutOrchestrator) currentLocked() domain.SubmissionAttempt {
	if o.attempt == nil {
		return domain.SubmissionAttempt{Status: o.status}
	}
	return o.attempt.Clone()
}

func (o *CheckoutOrchestrator) record(ctx context.Context, outcome string) {
	o.submitted.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// buildOrderPayload assembles the order from sanitized address records and the cart lines.
func buildOrderPayload(input domain.CheckoutInput, billing, shipping domain.AddressRecord, cart domain.CartSnapshot, mutationID string) domain.OrderPayload {
	lines := make([]domain.OrderLineItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		if item.Quantity <= 0 {
			continue
		}
		lines = append(lines, domain.OrderLineItem{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Quantity:  item.Quantity,
		})
	}
	return domain.OrderPayload{
		ClientMutationID:       mutationID,
		CartID:                 cart.ID,
		Billing:                billing.OrderAddress(),
		Shipping:               shipping.OrderAddress(),
		ShipToDifferentAddress: input.BillingDifferentThanShipping,
		CreateAccount:          input.CreateAccount,
		CustomerNote:           SanitizeText(input.OrderNotes),
		PaymentMethod:          strings.TrimSpace(input.PaymentMethod),
		LineItems:              lines,
	}
}

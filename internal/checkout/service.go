// Package checkout implements the checkout session state machine:
//
//	incomplete ──update/mint──▶ ready_for_complete ──complete──▶ completed
//	    │                              │
//	    └──────────cancel──────────────┴──────────▶ canceled
//
// Complete and cancel are accepted from any state, so a canceled session can
// still be completed. Terminal sessions ignore update and mint.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ucp-checkout/internal/adapter"
	"ucp-checkout/internal/catalog"
	"ucp-checkout/internal/metrics"
	"ucp-checkout/internal/model"
	"ucp-checkout/internal/pricing"
	"ucp-checkout/internal/reconcile"
)

// Placeholder pricing for products synthesized on a catalog miss
// when the catalog has nothing to copy from.
const (
	FallbackUnitPrice int64 = 1000
	FallbackCurrency        = "USD"
	FallbackCategory        = "misc"

	// DefaultProductID names the product synthesized when a request
	// omits the product and the catalog is empty.
	DefaultProductID = "default"

	// MaxQuantity caps a line's quantity so unit price × quantity stays
	// well inside int64 minor units.
	MaxQuantity = 10_000

	// DefaultSessionTTL is the advisory lifetime reported in expires_at.
	DefaultSessionTTL = time.Hour
)

var tracer = otel.Tracer("ucp-checkout/internal/checkout")

// Config holds Service dependencies. Store, Catalog and Business are required.
type Config struct {
	Store    SessionStore
	Catalog  catalog.Catalog
	Pricing  *pricing.Engine
	Business *model.BusinessConfig
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// Service is the checkout engine. It implements adapter.Adapter.
type Service struct {
	store    SessionStore
	catalog  catalog.Catalog
	pricing  *pricing.Engine
	business *model.BusinessConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

var _ adapter.Adapter = (*Service)(nil)

// New creates a Service from cfg.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("checkout: store is required")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("checkout: catalog is required")
	}
	if cfg.Business == nil {
		return nil, errors.New("checkout: business config is required")
	}
	s := &Service{
		store:    cfg.Store,
		catalog:  cfg.Catalog,
		pricing:  cfg.Pricing,
		business: cfg.Business,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      cfg.Now,
		newID:    cfg.NewID,
	}
	if s.pricing == nil {
		s.pricing = pricing.NewDefault()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = NewCheckoutID
	}
	return s, nil
}

// NewCheckoutID returns a fresh "chk_" prefixed id.
func NewCheckoutID() string {
	return "chk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GetProfile returns the business discovery profile.
func (s *Service) GetProfile(ctx context.Context) (*model.DiscoveryProfile, error) {
	return s.business.DiscoveryProfile(), nil
}

// CreateCheckout opens a new session.
func (s *Service) CreateCheckout(ctx context.Context, req *adapter.CreateCheckoutRequest) (*model.Checkout, error) {
	ctx, span := tracer.Start(ctx, "checkout.Create")
	defer span.End()

	var requested []model.LineItemRequest
	if req != nil {
		requested = req.LineItems
	}

	sess := Session{
		ID:        s.newID(),
		LineItems: s.buildLineItems(ctx, requested),
		Payment:   s.newPayment(),
		Status:    model.StatusIncomplete,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Insert(ctx, sess); err != nil {
		return nil, s.fail(span, model.NewInternalError(err))
	}

	s.metrics.SessionCreated()
	s.observe(span, "create", sess)
	return s.view(sess, nil), nil
}

// GetCheckout returns a snapshot of the session.
func (s *Service) GetCheckout(ctx context.Context, checkoutID string) (*model.Checkout, error) {
	ctx, span := tracer.Start(ctx, "checkout.Get", idAttr(checkoutID))
	defer span.End()

	sess, err := s.store.Get(ctx, checkoutID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	return s.view(sess, nil), nil
}

// UpdateCheckout replaces line items when the request lists any and marks the
// session ready_for_complete. Terminal sessions are returned unchanged with a warning.
func (s *Service) UpdateCheckout(ctx context.Context, checkoutID string, req *model.CheckoutUpdateRequest) (*model.Checkout, error) {
	ctx, span := tracer.Start(ctx, "checkout.Update", idAttr(checkoutID))
	defer span.End()

	// Built before taking the session lock; catalog resolution may register products.
	var replacement []model.LineItem
	if req != nil && len(req.LineItems) > 0 {
		replacement = s.buildLineItems(ctx, req.LineItems)
	}

	ignored := false
	var changes *reconcile.LineItemChanges
	sess, err := s.store.Update(ctx, checkoutID, func(sess *Session) {
		if sess.Status.IsTerminal() {
			ignored = true
			return
		}
		if replacement != nil {
			changes = reconcile.DiffLineItems(sess.LineItems, replacement)
			sess.LineItems = replacement
		}
		sess.Status = model.StatusReadyForComplete
	})
	if err != nil {
		return nil, s.fail(span, err)
	}

	if changes != nil {
		s.recordChanges(ctx, span, checkoutID, changes)
	}
	s.observe(span, "update", sess)
	return s.view(sess, terminalWarnings(ignored, sess.Status, "$.line_items")), nil
}

// MintInstrument binds a synthesized card instrument as the only instrument.
func (s *Service) MintInstrument(ctx context.Context, checkoutID string) (*model.Checkout, error) {
	ctx, span := tracer.Start(ctx, "checkout.MintInstrument", idAttr(checkoutID))
	defer span.End()

	instrumentID := "inst_" + checkoutID
	inst, err := model.NewDocument(model.PaymentInstrument{
		ID:         instrumentID,
		HandlerID:  model.MockPaymentHandlerID,
		Type:       "card",
		Brand:      "visa",
		LastDigits: "4242",
		Credential: &model.TokenCredential{Type: "token", Token: model.MockSuccessToken},
	})
	if err != nil {
		return nil, s.fail(span, model.NewInternalError(err))
	}

	ignored := false
	sess, err := s.store.Update(ctx, checkoutID, func(sess *Session) {
		if sess.Status.IsTerminal() {
			ignored = true
			return
		}
		sess.Payment.Instruments = []model.Document{inst}
		sess.Payment.SelectedInstrumentID = instrumentID
		sess.Status = model.StatusReadyForComplete
	})
	if err != nil {
		return nil, s.fail(span, err)
	}

	s.observe(span, "mint_instrument", sess)
	return s.view(sess, terminalWarnings(ignored, sess.Status, "$.payment")), nil
}

// CompleteCheckout marks the session completed from any state. A submitted payment_data
// object, or the selected entry of payment.instruments, replaces the bound instrument.
func (s *Service) CompleteCheckout(ctx context.Context, checkoutID string, req *model.CheckoutCompleteRequest) (*model.Checkout, error) {
	ctx, span := tracer.Start(ctx, "checkout.Complete", idAttr(checkoutID))
	defer span.End()

	bound, hasBound := submittedInstrument(req)

	sess, err := s.store.Update(ctx, checkoutID, func(sess *Session) {
		sess.Status = model.StatusCompleted
		if !hasBound {
			return
		}
		sess.Payment.Instruments = []model.Document{bound}
		// Keep selected_instrument_id pointing at the bound instrument or nothing.
		id, _ := model.InstrumentID(bound)
		sess.Payment.SelectedInstrumentID = id
	})
	if err != nil {
		return nil, s.fail(span, err)
	}

	s.observe(span, "complete", sess)
	out := s.view(sess, nil)
	out.Order = s.orderConfirmation(checkoutID)
	return out, nil
}

// CancelCheckout marks the session canceled. Canceling twice is a no-op.
func (s *Service) CancelCheckout(ctx context.Context, checkoutID string) (*model.Checkout, error) {
	ctx, span := tracer.Start(ctx, "checkout.Cancel", idAttr(checkoutID))
	defer span.End()

	sess, err := s.store.Update(ctx, checkoutID, func(sess *Session) {
		sess.Status = model.StatusCanceled
	})
	if err != nil {
		return nil, s.fail(span, err)
	}

	s.observe(span, "cancel", sess)
	return s.view(sess, nil), nil
}

// buildLineItems resolves each request against the catalog.
// An empty request list yields one unit of the default product.
func (s *Service) buildLineItems(ctx context.Context, reqs []model.LineItemRequest) []model.LineItem {
	if len(reqs) == 0 {
		reqs = []model.LineItemRequest{{}}
	}
	items := make([]model.LineItem, 0, len(reqs))
	for i, r := range reqs {
		p := s.resolveProduct(ctx, strings.TrimSpace(r.ProductRef()))
		qty := min(max(r.Quantity, 1), MaxQuantity)
		items = append(items, model.LineItem{
			ID:       fmt.Sprintf("item_%d", i+1),
			Item:     model.ItemFromProduct(p),
			Quantity: qty,
			Totals:   pricing.LineTotals(p.UnitPrice, qty),
		})
	}
	return items
}

// resolveProduct never fails: a blank id picks the catalog default and an
// unknown id is synthesized and registered so later lookups agree.
func (s *Service) resolveProduct(ctx context.Context, id string) model.Product {
	if id == "" {
		if p, ok := s.catalog.Any(); ok {
			return p
		}
		id = DefaultProductID
	}
	if p, ok := s.catalog.Lookup(id); ok {
		return p
	}

	price, currency := FallbackUnitPrice, FallbackCurrency
	if seed, ok := s.catalog.Any(); ok {
		price, currency = seed.UnitPrice, seed.Currency
	}
	p := s.catalog.Register(model.Product{
		ID:        id,
		Title:     "Item " + id,
		UnitPrice: price,
		Currency:  currency,
		Category:  FallbackCategory,
	})
	s.logger.DebugContext(ctx, "synthesized placeholder product",
		slog.String("product_id", p.ID),
		slog.Int64("price", p.UnitPrice),
	)
	return p
}

func (s *Service) newPayment() model.Payment {
	handlers := make([]model.PaymentHandler, len(s.business.PaymentHandlers))
	for i, h := range s.business.PaymentHandlers {
		handlers[i] = h.Clone()
	}
	return model.Payment{
		Handlers:    handlers,
		Instruments: []model.Document{},
	}
}

func (s *Service) orderConfirmation(checkoutID string) *model.OrderConfirmation {
	orderID := "order_" + checkoutID
	return &model.OrderConfirmation{
		ID:           orderID,
		PermalinkURL: strings.TrimSuffix(s.business.OrderBaseURL, "/") + "/" + orderID,
	}
}

// view projects a session into the response document.
// expires_at is anchored to creation time, so repeated reads agree.
func (s *Service) view(sess Session, messages []model.Message) *model.Checkout {
	ttl := s.business.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	expiresAt := sess.CreatedAt.Add(ttl)

	lineItems := sess.LineItems
	if lineItems == nil {
		lineItems = []model.LineItem{}
	}
	if sess.Payment.Instruments == nil {
		sess.Payment.Instruments = []model.Document{}
	}
	if sess.Payment.Handlers == nil {
		sess.Payment.Handlers = []model.PaymentHandler{}
	}

	return &model.Checkout{
		UCP: model.UCPMetadata{
			Version:      s.business.UCPVersion,
			Capabilities: append([]model.CapabilityRef{}, s.business.Capabilities...),
		},
		ID:          sess.ID,
		Status:      sess.Status,
		Currency:    s.business.Currency,
		LineItems:   lineItems,
		Totals:      s.pricing.OrderTotals(lineItems),
		Links:       append([]model.Link{}, s.business.PolicyLinks...),
		Payment:     sess.Payment,
		Messages:    messages,
		ContinueURL: strings.TrimSuffix(s.business.BaseURL, "/") + "/continue/" + sess.ID,
		ExpiresAt:   &expiresAt,
	}
}

// submittedInstrument picks the instrument a complete request binds, if any.
func submittedInstrument(req *model.CheckoutCompleteRequest) (model.Document, bool) {
	if req == nil {
		return nil, false
	}
	if req.PaymentData.IsObject() {
		return req.PaymentData.Clone(), true
	}
	if req.Payment != nil {
		if inst, ok := model.SelectInstrument(req.Payment.Instruments); ok && inst.IsObject() {
			return inst.Clone(), true
		}
	}
	return nil, false
}

// recordChanges reports which products a line-item replacement touched.
func (s *Service) recordChanges(ctx context.Context, span trace.Span, checkoutID string, c *reconcile.LineItemChanges) {
	added := reconcile.ProductIDs(c.Added)
	removed := reconcile.ProductIDs(c.Removed)
	requantified := reconcile.ProductIDs(c.Requantified)
	span.SetAttributes(
		attribute.StringSlice("checkout.products.added", added),
		attribute.StringSlice("checkout.products.removed", removed),
		attribute.StringSlice("checkout.products.requantified", requantified),
	)
	s.logger.DebugContext(ctx, "line items replaced",
		slog.String("checkout_id", checkoutID),
		slog.Bool("unchanged", c.IsEmpty()),
		slog.Any("added", added),
		slog.Any("removed", removed),
		slog.Any("requantified", requantified),
	)
}

func terminalWarnings(ignored bool, status model.CheckoutStatus, path string) []model.Message {
	if !ignored {
		return nil
	}
	return []model.Message{model.NewWarningMessageWithPath(
		"checkout_terminal",
		fmt.Sprintf("checkout is %s; the change was not applied", status),
		path,
	)}
}

func (s *Service) observe(span trace.Span, operation string, sess Session) {
	span.SetAttributes(
		attribute.String("checkout.id", sess.ID),
		attribute.String("checkout.status", string(sess.Status)),
		attribute.Int("checkout.line_items", len(sess.LineItems)),
	)
	s.metrics.ObserveTransition(operation, string(sess.Status))
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func idAttr(checkoutID string) trace.SpanStartOption {
	return trace.WithAttributes(attribute.String("checkout.id", checkoutID))
}

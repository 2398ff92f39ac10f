// Package model defines the UCP wire types served by the checkout engine.
package model

import (
	"encoding/json"
	"time"
)

// UCPVersion is the protocol version this server speaks.
const UCPVersion = "2026-01-11"

// === Root Types ===

// Checkout is the response document for every checkout operation.
type Checkout struct {
	UCP         UCPMetadata        `json:"ucp"`
	ID          string             `json:"id"`
	Status      CheckoutStatus     `json:"status"`
	Currency    string             `json:"currency"`
	LineItems   []LineItem         `json:"line_items"`
	Totals      []Total            `json:"totals"`
	Links       []Link             `json:"links"`
	Payment     Payment            `json:"payment"`
	Messages    []Message          `json:"messages,omitempty"`
	ContinueURL string             `json:"continue_url,omitempty"`
	ExpiresAt   *time.Time         `json:"expires_at,omitempty"`
	Order       *OrderConfirmation `json:"order,omitempty"`
}

// UCPMetadata is the protocol block shared by discovery profiles and checkout responses.
// Services are only populated for discovery.
type UCPMetadata struct {
	Version      string             `json:"version"`
	Services     map[string]Service `json:"services,omitempty"`
	Capabilities []CapabilityRef    `json:"capabilities"`
}

// Service describes the transports a business exposes for a service namespace.
type Service struct {
	Version string          `json:"version"`
	Spec    string          `json:"spec,omitempty"`
	REST    *ServiceBinding `json:"rest,omitempty"`
	MCP     *ServiceBinding `json:"mcp,omitempty"`
}

// ServiceBinding is one transport endpoint.
type ServiceBinding struct {
	Schema   string `json:"schema,omitempty"`
	Endpoint string `json:"endpoint"`
}

// OrderConfirmation is returned by complete. It is not stored on the session.
type OrderConfirmation struct {
	ID           string `json:"id"`
	PermalinkURL string `json:"permalink_url"`
}

// === Enums ===

// CheckoutStatus is the state-machine field of a checkout session.
type CheckoutStatus string

const (
	StatusIncomplete       CheckoutStatus = "incomplete"
	StatusReadyForComplete CheckoutStatus = "ready_for_complete"
	StatusCompleted        CheckoutStatus = "completed"
	StatusCanceled         CheckoutStatus = "canceled"
)

// IsTerminal reports whether no further buyer-driven transition applies.
func (s CheckoutStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// MessageSeverity indicates how an error message should be handled.
type MessageSeverity string

const (
	SeverityRecoverable   MessageSeverity = "recoverable"   // Agent can fix with different input
	SeverityUnrecoverable MessageSeverity = "unrecoverable" // Cannot proceed, need different approach
)

// TotalType categorizes entries of a totals breakdown.
type TotalType string

const (
	TotalTypeSubtotal    TotalType = "subtotal"
	TotalTypeFulfillment TotalType = "fulfillment"
	TotalTypeTotal       TotalType = "total"
)

// LinkType categorizes business policy links.
type LinkType string

const (
	LinkTypePrivacyPolicy  LinkType = "privacy_policy"
	LinkTypeTermsOfService LinkType = "terms_of_service"
	LinkTypeRefundPolicy   LinkType = "refund_policy"
	LinkTypeShippingPolicy LinkType = "shipping_policy"
)

// === Catalog & Line Items ===

// Product is an immutable catalog record. Prices are in minor units.
type Product struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	UnitPrice int64  `json:"price"`
	Currency  string `json:"currency"`
	ImageURL  string `json:"image_url,omitempty"`
	Category  string `json:"category,omitempty"`
}

// LineItem is a product snapshot with quantity and computed totals.
type LineItem struct {
	ID       string  `json:"id"`
	Item     Item    `json:"item"`
	Quantity int     `json:"quantity"`
	Totals   []Total `json:"totals"`
}

// Item is the product snapshot embedded in a line item.
type Item struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Price    int64  `json:"price"`
	ImageURL string `json:"image_url,omitempty"`
}

// ItemFromProduct copies the fields of p shown on a line item.
func ItemFromProduct(p Product) Item {
	return Item{ID: p.ID, Title: p.Title, Price: p.UnitPrice, ImageURL: p.ImageURL}
}

// === Totals & Links ===

// Total is one entry of a totals breakdown, in minor units.
type Total struct {
	Type        TotalType `json:"type"`
	Amount      int64     `json:"amount"`
	DisplayText string    `json:"display_text,omitempty"`
}

// AmountOf returns the amount of the first entry of type t.
func AmountOf(totals []Total, t TotalType) (int64, bool) {
	for _, tot := range totals {
		if tot.Type == t {
			return tot.Amount, true
		}
	}
	return 0, false
}

// Link is a business policy URL.
type Link struct {
	Type  LinkType `json:"type"`
	URL   string   `json:"url"`
	Title string   `json:"title,omitempty"`
}

// === Payment ===

// Payment is the payment section of a checkout.
// Instruments holds at most the single bound instrument.
type Payment struct {
	Handlers             []PaymentHandler `json:"handlers"`
	Instruments          []Document       `json:"instruments"`
	SelectedInstrumentID string           `json:"selected_instrument_id,omitempty"`
}

// Clone returns a copy that shares no slices with p.
func (p Payment) Clone() Payment {
	out := Payment{SelectedInstrumentID: p.SelectedInstrumentID}
	out.Handlers = make([]PaymentHandler, len(p.Handlers))
	for i, h := range p.Handlers {
		out.Handlers[i] = h.Clone()
	}
	out.Instruments = make([]Document, len(p.Instruments))
	for i, inst := range p.Instruments {
		out.Instruments[i] = inst.Clone()
	}
	return out
}

// PaymentHandler describes a payment collection strategy offered by the business.
type PaymentHandler struct {
	ID                string   `json:"id"`
	Name              string   `json:"name,omitempty"`
	Version           string   `json:"version"`
	Spec              string   `json:"spec,omitempty"`
	ConfigSchema      string   `json:"config_schema,omitempty"`
	InstrumentSchemas []string `json:"instrument_schemas,omitempty"`
	Config            Document `json:"config,omitempty"`
}

// Clone returns a deep copy of h.
func (h PaymentHandler) Clone() PaymentHandler {
	h.InstrumentSchemas = append([]string(nil), h.InstrumentSchemas...)
	h.Config = h.Config.Clone()
	return h
}

// PaymentInstrument is the typed form of an instrument minted by the server.
// Instruments submitted by agents stay opaque Documents.
type PaymentInstrument struct {
	ID         string           `json:"id"`
	HandlerID  string           `json:"handler_id"`
	Type       string           `json:"type"`
	Brand      string           `json:"brand,omitempty"`
	LastDigits string           `json:"last_digits,omitempty"`
	Credential *TokenCredential `json:"credential,omitempty"`
}

// TokenCredential contains payment token data.
type TokenCredential struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// instrumentRef is the projection of an instrument the engine reads.
type instrumentRef struct {
	ID       string `json:"id"`
	Selected bool   `json:"selected"`
}

// InstrumentID returns the id of an instrument document, if it has a string id.
func InstrumentID(doc Document) (string, bool) {
	id, ok := doc.String("id")
	return id, ok && id != ""
}

// SelectInstrument picks the instrument marked selected=true, falling back to the first.
func SelectInstrument(instruments []Document) (Document, bool) {
	for _, inst := range instruments {
		var ref instrumentRef
		if err := json.Unmarshal(inst, &ref); err == nil && ref.Selected {
			return inst, true
		}
	}
	if len(instruments) > 0 {
		return instruments[0], true
	}
	return nil, false
}

// === Messages ===

// Message is feedback about checkout state.
// For type="error", severity is required.
type Message struct {
	Type     string `json:"type"`
	Code     string `json:"code,omitempty"`
	Content  string `json:"content"`
	Path     string `json:"path,omitempty"`
	Severity string `json:"severity,omitempty"`
}

// NewErrorMessage creates an error message with required severity.
func NewErrorMessage(code, content string, severity MessageSeverity) Message {
	return Message{
		Type:     "error",
		Code:     code,
		Content:  content,
		Severity: string(severity),
	}
}

// NewInfoMessage creates an informational message.
func NewInfoMessage(code, content string) Message {
	return Message{
		Type:    "info",
		Code:    code,
		Content: content,
	}
}

// NewWarningMessage creates a warning message.
func NewWarningMessage(code, content string) Message {
	return Message{
		Type:    "warning",
		Code:    code,
		Content: content,
	}
}

// NewWarningMessageWithPath creates a warning message pointing to a specific field.
func NewWarningMessageWithPath(code, content, path string) Message {
	m := NewWarningMessage(code, content)
	m.Path = path
	return m
}

// === Request Types ===

// LineItemRequest names a product and quantity.
// The product is read from item.id, or product_id for older clients.
type LineItemRequest struct {
	Item      *ItemRef `json:"item,omitempty"`
	ProductID string   `json:"product_id,omitempty"`
	Quantity  int      `json:"quantity,omitempty"`
}

// ItemRef references a catalog product by id.
type ItemRef struct {
	ID string `json:"id"`
}

// ProductRef returns the requested product id, possibly empty.
func (r LineItemRequest) ProductRef() string {
	if r.Item != nil && r.Item.ID != "" {
		return r.Item.ID
	}
	return r.ProductID
}

// CheckoutUpdateRequest replaces line items when the list is non-empty.
type CheckoutUpdateRequest struct {
	LineItems []LineItemRequest `json:"line_items,omitempty"`
}

// CheckoutCompleteRequest carries the payment bound at completion.
// payment_data takes precedence over payment.instruments.
type CheckoutCompleteRequest struct {
	PaymentData Document           `json:"payment_data,omitempty"`
	Payment     *PaymentSubmission `json:"payment,omitempty"`
	RiskSignals Document           `json:"risk_signals,omitempty"`
}

// PaymentSubmission is the UCP payment object submitted on complete.
type PaymentSubmission struct {
	Instruments []Document `json:"instruments"`
}

// === Discovery Profile ===

// DiscoveryProfile is served at /.well-known/ucp.
type DiscoveryProfile struct {
	UCP     UCPMetadata     `json:"ucp"`
	Payment *PaymentProfile `json:"payment,omitempty"`
}

// PaymentProfile lists the handlers a business accepts.
type PaymentProfile struct {
	Handlers []PaymentHandler `json:"handlers"`
}

package model

import "time"

// BusinessConfig holds the business-wide settings the checkout engine projects
// into every response. Built once from config at startup.
type BusinessConfig struct {
	BaseURL      string // e.g. "http://localhost:8080", used for endpoints and continue URLs
	OrderBaseURL string // permalink prefix for order confirmations
	UCPVersion   string
	Currency     string
	SessionTTL   time.Duration
	PolicyLinks  []Link

	Services        map[string]Service
	Capabilities    []CapabilityRef
	PaymentHandlers []PaymentHandler
}

// DiscoveryProfile returns the profile served to agents at /.well-known/ucp.
func (c *BusinessConfig) DiscoveryProfile() *DiscoveryProfile {
	handlers := make([]PaymentHandler, len(c.PaymentHandlers))
	for i, h := range c.PaymentHandlers {
		handlers[i] = h.Clone()
	}
	return &DiscoveryProfile{
		UCP: UCPMetadata{
			Version:      c.UCPVersion,
			Services:     c.Services,
			Capabilities: append([]CapabilityRef(nil), c.Capabilities...),
		},
		Payment: &PaymentProfile{Handlers: handlers},
	}
}

// Mock payment handler advertised when no handlers are configured.
const (
	MockPaymentHandlerID = "mock_payment_handler"
	MockSuccessToken     = "success_token"
	MockFailToken        = "fail_token"
)

// MockPaymentHandler returns the descriptor of the built-in token handler.
func MockPaymentHandler(version string) PaymentHandler {
	return PaymentHandler{
		ID:                MockPaymentHandlerID,
		Name:              "dev.ucp.mock_payment",
		Version:           version,
		Spec:              "https://ucp.dev/specs/mock",
		ConfigSchema:      "https://ucp.dev/schemas/mock.json",
		InstrumentSchemas: []string{"https://ucp.dev/schemas/shopping/types/card_payment_instrument.json"},
		Config:            Document(`{"supported_tokens":["` + MockSuccessToken + `","` + MockFailToken + `"]}`),
	}
}

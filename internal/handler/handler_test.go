package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ucp-checkout/internal/adapter"
	"ucp-checkout/internal/catalog"
	"ucp-checkout/internal/checkout"
	"ucp-checkout/internal/metrics"
	"ucp-checkout/internal/middleware"
	"ucp-checkout/internal/model"
	"ucp-checkout/internal/negotiation"
	"ucp-checkout/internal/pricing"
)

func testHandler(mock *adapter.Mock) (*Handler, *http.ServeMux) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(mock, nil, nil, metrics.New(), logger)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return h, mux
}

// getUCPErrorCode extracts the error code from a checkout-shaped error response.
func getUCPErrorCode(body []byte) string {
	var checkout model.Checkout
	if err := json.Unmarshal(body, &checkout); err != nil {
		return ""
	}
	if len(checkout.Messages) > 0 && checkout.Messages[0].Type == "error" {
		return checkout.Messages[0].Code
	}
	return ""
}

func sampleCheckout(id string, status model.CheckoutStatus) *model.Checkout {
	return &model.Checkout{
		ID:       id,
		Status:   status,
		Currency: "USD",
		UCP:      model.UCPMetadata{Version: model.UCPVersion, Capabilities: []model.CapabilityRef{}},
		Totals:   []model.Total{{Type: model.TotalTypeTotal, Amount: 9900}},
	}
}

func TestHandleHealth(t *testing.T) {
	_, mux := testHandler(&adapter.Mock{})

	for _, path := range []string{"/health", "/healthz"} {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()

		mux.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("%s: Status = %d, want %d", path, w.Code, http.StatusOK)
		}

		var resp healthResponse
		json.NewDecoder(w.Body).Decode(&resp)
		if resp.Status != "ok" {
			t.Errorf("%s: Status = %s, want ok", path, resp.Status)
		}
	}
}

func TestHandleWellKnown(t *testing.T) {
	_, mux := testHandler(&adapter.Mock{})

	req := httptest.NewRequest("GET", "/.well-known/ucp", nil)
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	var profile model.DiscoveryProfile
	json.NewDecoder(w.Body).Decode(&profile)
	if profile.UCP.Version != "2026-01-11" {
		t.Errorf("Version = %s, want 2026-01-11", profile.UCP.Version)
	}
	if len(profile.UCP.Capabilities) != 1 || profile.UCP.Capabilities[0].Name != model.CapabilityCheckout {
		t.Errorf("Capabilities = %+v", profile.UCP.Capabilities)
	}
}

func TestHandleWellKnownError(t *testing.T) {
	mock := &adapter.Mock{
		GetProfileFunc: func(ctx context.Context) (*model.DiscoveryProfile, error) {
			return nil, errors.New("db password is hunter2")
		},
	}
	_, mux := testHandler(mock)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/.well-known/ucp", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "hunter2") {
		t.Error("internal error details leaked to client")
	}
	var resp errorResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Error.Code != "INTERNAL_ERROR" {
		t.Errorf("Code = %s, want INTERNAL_ERROR", resp.Error.Code)
	}
}

func TestHandlePlatformProfile(t *testing.T) {
	_, mux := testHandler(&adapter.Mock{})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/profiles/platform.json", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d", w.Code)
	}
	doc, err := model.ParseDocument(w.Body.Bytes())
	if err != nil {
		t.Fatalf("profile is not a JSON object: %v", err)
	}
	caps := negotiation.PlatformCapabilities(doc)
	if len(caps) != 2 || caps[0].Name != model.CapabilityCheckout {
		t.Errorf("capabilities = %+v", caps)
	}
}

func TestHandleGetCheckout(t *testing.T) {
	mock := &adapter.Mock{
		GetCheckoutFunc: func(ctx context.Context, id string) (*model.Checkout, error) {
			if id == "123" {
				return sampleCheckout("123", model.StatusReadyForComplete), nil
			}
			return nil, model.NewNotFoundError("checkout")
		},
	}

	_, mux := testHandler(mock)

	tests := []struct {
		name       string
		id         string
		wantStatus int
		wantCode   string
	}{
		{"found", "123", http.StatusOK, ""},
		{"not found", "456", http.StatusNotFound, "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/checkout-sessions/"+tt.id, nil)
			w := httptest.NewRecorder()

			mux.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d", w.Code, tt.wantStatus)
			}
			if code := getUCPErrorCode(w.Body.Bytes()); code != tt.wantCode {
				t.Errorf("error code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

func TestHandleNotFoundIsCheckoutShaped(t *testing.T) {
	_, mux := testHandler(&adapter.Mock{})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/checkout-sessions/missing", nil))

	var body map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"id", "status", "ucp", "line_items", "totals", "links", "payment", "messages"} {
		if _, ok := body[key]; !ok {
			t.Errorf("missing %q in error body %s", key, w.Body.String())
		}
	}

	var checkout model.Checkout
	json.Unmarshal(w.Body.Bytes(), &checkout)
	if checkout.ID != "missing" {
		t.Errorf("ID = %q, want missing", checkout.ID)
	}
	if checkout.Messages[0].Severity != string(model.SeverityUnrecoverable) {
		t.Errorf("Severity = %s", checkout.Messages[0].Severity)
	}
}

func TestHandleCreateCheckout(t *testing.T) {
	var got *adapter.CreateCheckoutRequest
	mock := &adapter.Mock{
		CreateCheckoutFunc: func(ctx context.Context, req *adapter.CreateCheckoutRequest) (*model.Checkout, error) {
			got = req
			return sampleCheckout("chk_1", model.StatusIncomplete), nil
		},
	}

	_, mux := testHandler(mock)

	tests := []struct {
		name      string
		path      string
		body      string
		wantItems int
	}{
		{"line items", "/checkout-sessions", `{"line_items":[{"item":{"id":"roses"},"quantity":2}]}`, 1},
		{"empty body", "/checkout-sessions", ``, 0},
		{"empty object", "/checkout-sessions", `{}`, 0},
		{"compat alias", "/ucp/checkout", `{"line_items":[{"product_id":"tulips","quantity":1}]}`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = nil
			req := httptest.NewRequest("POST", tt.path, bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			mux.ServeHTTP(w, req)

			if w.Code != http.StatusCreated {
				t.Fatalf("Status = %d, want %d\nBody: %s", w.Code, http.StatusCreated, w.Body.String())
			}
			if got == nil || len(got.LineItems) != tt.wantItems {
				t.Errorf("adapter request = %+v, want %d line items", got, tt.wantItems)
			}
		})
	}
}

func TestHandleCreateCheckoutInvalidJSON(t *testing.T) {
	called := false
	mock := &adapter.Mock{
		CreateCheckoutFunc: func(ctx context.Context, req *adapter.CreateCheckoutRequest) (*model.Checkout, error) {
			called = true
			return nil, nil
		},
	}
	_, mux := testHandler(mock)

	req := httptest.NewRequest("POST", "/checkout-sessions", bytes.NewBufferString(`{"line_items":`))
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if code := getUCPErrorCode(w.Body.Bytes()); code != "VALIDATION_ERROR" {
		t.Errorf("error code = %q, want VALIDATION_ERROR", code)
	}
	if called {
		t.Error("adapter should not be called on malformed JSON")
	}
}

func TestHandleUpdateCheckout(t *testing.T) {
	var gotID string
	var gotItems int
	mock := &adapter.Mock{
		UpdateCheckoutFunc: func(ctx context.Context, id string, req *model.CheckoutUpdateRequest) (*model.Checkout, error) {
			gotID, gotItems = id, len(req.LineItems)
			return sampleCheckout(id, model.StatusReadyForComplete), nil
		},
	}
	_, mux := testHandler(mock)

	for _, tc := range []struct{ method, path string }{
		{"PUT", "/checkout-sessions/chk_1"},
		{"PATCH", "/ucp/checkout/chk_1"},
	} {
		t.Run(tc.method, func(t *testing.T) {
			body := `{"line_items":[{"item":{"id":"tulips"},"quantity":3}]}`
			req := httptest.NewRequest(tc.method, tc.path, bytes.NewBufferString(body))
			w := httptest.NewRecorder()

			mux.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("Status = %d, want 200", w.Code)
			}
			if gotID != "chk_1" || gotItems != 1 {
				t.Errorf("adapter got id=%q items=%d", gotID, gotItems)
			}
		})
	}
}

func TestHandleMintInstrument(t *testing.T) {
	calls := 0
	mock := &adapter.Mock{
		MintInstrumentFunc: func(ctx context.Context, id string) (*model.Checkout, error) {
			calls++
			return sampleCheckout(id, model.StatusReadyForComplete), nil
		},
	}
	_, mux := testHandler(mock)

	for _, path := range []string{"/checkout-sessions/chk_1/mint-instrument", "/ucp/checkout/chk_1/mint_instrument"} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest("POST", path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("%s: Status = %d", path, w.Code)
		}
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestHandleCompleteCheckout(t *testing.T) {
	var got *model.CheckoutCompleteRequest
	mock := &adapter.Mock{
		CompleteCheckoutFunc: func(ctx context.Context, id string, req *model.CheckoutCompleteRequest) (*model.Checkout, error) {
			got = req
			c := sampleCheckout(id, model.StatusCompleted)
			c.Order = &model.OrderConfirmation{ID: "order_" + id, PermalinkURL: "https://example.com/orders/order_" + id}
			return c, nil
		},
	}
	_, mux := testHandler(mock)

	body := `{"payment_data":{"id":"pi_1","handler_id":"mock_payment_handler","credential":{"type":"token","token":"success_token"}}}`
	req := httptest.NewRequest("POST", "/checkout-sessions/chk_1/complete", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	if got == nil || got.PaymentData.IsEmpty() {
		t.Fatal("payment_data not passed to adapter")
	}
	if id, _ := model.InstrumentID(got.PaymentData); id != "pi_1" {
		t.Errorf("instrument id = %q", id)
	}

	var checkout model.Checkout
	json.NewDecoder(w.Body).Decode(&checkout)
	if checkout.Order == nil || checkout.Order.ID != "order_chk_1" {
		t.Errorf("Order = %+v", checkout.Order)
	}

	// The compat alias accepts an empty body.
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("POST", "/ucp/checkout/chk_1/complete", nil))
	if w.Code != http.StatusOK {
		t.Errorf("alias Status = %d", w.Code)
	}
}

func TestHandleCancelCheckout(t *testing.T) {
	mock := &adapter.Mock{
		CancelCheckoutFunc: func(ctx context.Context, id string) (*model.Checkout, error) {
			return sampleCheckout(id, model.StatusCanceled), nil
		},
	}
	_, mux := testHandler(mock)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("POST", "/checkout-sessions/chk_1/cancel", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d", w.Code)
	}
	var checkout model.Checkout
	json.NewDecoder(w.Body).Decode(&checkout)
	if checkout.Status != model.StatusCanceled {
		t.Errorf("Status = %s, want canceled", checkout.Status)
	}
}

func TestHandleCheckoutInternalError(t *testing.T) {
	mock := &adapter.Mock{
		CancelCheckoutFunc: func(ctx context.Context, id string) (*model.Checkout, error) {
			return nil, fmt.Errorf("store: %w", errors.New("disk on fire"))
		},
	}
	_, mux := testHandler(mock)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("POST", "/checkout-sessions/chk_1/cancel", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", w.Code)
	}
	if code := getUCPErrorCode(w.Body.Bytes()); code != "INTERNAL_ERROR" {
		t.Errorf("error code = %q", code)
	}
	if strings.Contains(w.Body.String(), "disk on fire") {
		t.Error("internal error details leaked to client")
	}
}

func testNegotiator() *negotiation.Negotiator {
	return negotiation.NewNegotiator(&model.DiscoveryProfile{
		UCP: model.UCPMetadata{
			Version: model.UCPVersion,
			Capabilities: []model.CapabilityRef{
				model.NewCapabilityRef(model.CapabilityCheckout, model.UCPVersion, ""),
				model.NewCapabilityRef(model.CapabilityFulfillment, model.UCPVersion, model.CapabilityCheckout),
			},
		},
		Payment: &model.PaymentProfile{Handlers: []model.PaymentHandler{model.MockPaymentHandler(model.UCPVersion)}},
	})
}

func TestHandleNegotiation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(&adapter.Mock{}, testNegotiator(), nil, nil, logger)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	tests := []struct {
		name         string
		body         string
		wantStatus   int
		wantCaps     []string
		wantHandlers int
		wantWarning  bool
	}{
		{
			name:         "capability list",
			body:         `{"capabilities":[{"name":"dev.ucp.shopping.fulfillment","version":"2025-01-01"},{"name":"dev.ucp.shopping.order","version":"2026-01-11"}]}`,
			wantStatus:   http.StatusOK,
			wantCaps:     []string{model.CapabilityFulfillment},
			wantHandlers: 1,
		},
		{
			name:         "registry form",
			body:         `{"capabilities":{"dev.ucp.shopping.checkout":[{"version":"2026-01-11"}]}}`,
			wantStatus:   http.StatusOK,
			wantCaps:     []string{model.CapabilityCheckout},
			wantHandlers: 1,
		},
		{
			name:         "full profile",
			body:         `{"ucp":{"version":"2027-01-01","capabilities":[{"name":"dev.ucp.shopping.checkout","version":"2026-01-11"},{"name":"dev.ucp.shopping.fulfillment","version":"2026-01-11"}]},"payment":{"handlers":[{"id":"other","version":"2026-01-11"}]}}`,
			wantStatus:   http.StatusOK,
			wantCaps:     []string{model.CapabilityCheckout, model.CapabilityFulfillment},
			wantHandlers: 0,
			wantWarning:  true,
		},
		{
			name:         "empty platform",
			body:         `{"capabilities":[]}`,
			wantStatus:   http.StatusOK,
			wantCaps:     []string{},
			wantHandlers: 1,
		},
		{name: "malformed JSON", body: `{"capabilities":`, wantStatus: http.StatusBadRequest},
		{name: "not an object", body: `[1,2]`, wantStatus: http.StatusBadRequest},
		{name: "bad capabilities", body: `{"capabilities":"checkout"}`, wantStatus: http.StatusBadRequest},
		{name: "bad handlers", body: `{"payment_handlers":42}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/ucp/negotiation", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()

			mux.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("Status = %d, want %d\nBody: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				var resp errorResponse
				json.NewDecoder(w.Body).Decode(&resp)
				if resp.Error.Code != "VALIDATION_ERROR" {
					t.Errorf("Code = %s, want VALIDATION_ERROR", resp.Error.Code)
				}
				return
			}

			var result negotiation.Result
			if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(result.Capabilities) != len(tt.wantCaps) {
				t.Fatalf("Capabilities = %+v, want %v", result.Capabilities, tt.wantCaps)
			}
			for i, name := range tt.wantCaps {
				if result.Capabilities[i].Name != name {
					t.Errorf("Capabilities[%d] = %s, want %s", i, result.Capabilities[i].Name, name)
				}
				if result.Capabilities[i].Version != model.UCPVersion {
					t.Errorf("Capabilities[%d] version = %s, want business version", i, result.Capabilities[i].Version)
				}
			}
			if len(result.PaymentHandlers) != tt.wantHandlers {
				t.Errorf("PaymentHandlers = %d, want %d", len(result.PaymentHandlers), tt.wantHandlers)
			}
			if hasWarning := len(result.Messages) > 0; hasWarning != tt.wantWarning {
				t.Errorf("Messages = %+v", result.Messages)
			}
		})
	}
}

// An empty body negotiates against the profile the middleware resolved.
func TestHandleNegotiationUsesResolvedProfile(t *testing.T) {
	h := New(&adapter.Mock{}, testNegotiator(), nil, nil, nil)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	res := &negotiation.Resolution{
		Source:  metrics.SourceHeader,
		Profile: model.Document(`{"ucp":{"capabilities":[{"name":"dev.ucp.shopping.checkout","version":"2026-01-11"}]}}`),
	}
	req := httptest.NewRequest("POST", "/ucp/negotiation", nil)
	req = req.WithContext(negotiation.WithResolution(req.Context(), res))
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	var result negotiation.Result
	json.NewDecoder(w.Body).Decode(&result)
	if len(result.Capabilities) != 1 || result.Capabilities[0].Name != model.CapabilityCheckout {
		t.Errorf("Capabilities = %+v", result.Capabilities)
	}
}

// Without a configured negotiator the adapter's profile is used.
func TestHandleNegotiationDefaultsToAdapterProfile(t *testing.T) {
	_, mux := testHandler(&adapter.Mock{})

	body := `{"capabilities":[{"name":"dev.ucp.shopping.checkout","version":"1"}]}`
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("POST", "/ucp/negotiation", bytes.NewBufferString(body)))

	var result negotiation.Result
	json.NewDecoder(w.Body).Decode(&result)
	if len(result.Capabilities) != 1 {
		t.Errorf("Capabilities = %+v", result.Capabilities)
	}
	if result.PaymentHandlers == nil {
		t.Error("PaymentHandlers should encode as an empty list")
	}
}

func TestHandleWebhooks(t *testing.T) {
	_, mux := testHandler(&adapter.Mock{})

	t.Run("partner", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/webhooks/partners/acme/events/order", bytes.NewBufferString(`{"event":"order.created"}`))
		req.Header.Set(middleware.HeaderRequestSignature, "sig")
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Status = %d", w.Code)
		}
		var ack webhookAck
		json.NewDecoder(w.Body).Decode(&ack)
		if !ack.Received || ack.PartnerID != "acme" {
			t.Errorf("ack = %+v", ack)
		}
	})

	t.Run("legacy echoes body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/webhooks/orders", bytes.NewBufferString(`{"order_id":"order_chk_1"}`))
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		var ack struct {
			Received bool              `json:"received"`
			Body     map[string]string `json:"body"`
		}
		json.NewDecoder(w.Body).Decode(&ack)
		if !ack.Received || ack.Body["order_id"] != "order_chk_1" {
			t.Errorf("ack = %+v", ack)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest("POST", "/webhooks/orders", bytes.NewBufferString(`{`)))
		if w.Code != http.StatusBadRequest {
			t.Errorf("Status = %d, want 400", w.Code)
		}
	})
}

func TestHandleMetrics(t *testing.T) {
	_, mux := testHandler(&adapter.Mock{})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("metrics output missing runtime collectors")
	}
}

// newTestServer wires the real engine behind the same middleware chain as the server binary.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()

	business := &model.BusinessConfig{
		BaseURL:         "http://shop.test",
		OrderBaseURL:    "https://example.com/orders",
		UCPVersion:      model.UCPVersion,
		Currency:        "USD",
		SessionTTL:      time.Hour,
		PolicyLinks:     []model.Link{},
		Capabilities:    []model.CapabilityRef{model.NewCapabilityRef(model.CapabilityCheckout, model.UCPVersion, "")},
		PaymentHandlers: []model.PaymentHandler{model.MockPaymentHandler(model.UCPVersion)},
	}
	svc, err := checkout.New(checkout.Config{
		Store:    checkout.NewMemoryStore(),
		Catalog:  catalog.Default(),
		Pricing:  pricing.NewDefault(),
		Business: business,
		Metrics:  m,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("checkout.New: %v", err)
	}

	fetcher := negotiation.NewHTTPProfileFetcherWithConfig(negotiation.ProfileFetcherConfig{FetchTimeout: time.Second})
	resolver := negotiation.NewResolver(fetcher, m, logger)
	h := New(svc, negotiation.NewNegotiator(business.DiscoveryProfile()), resolver, m, logger)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	chain := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestMetadata(),
		middleware.Logging(logger),
		negotiation.Middleware(resolver),
	)
	srv := httptest.NewServer(chain(mux))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, agent, body string) (*http.Response, model.Checkout) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if agent != "" {
		req.Header.Set(middleware.HeaderUCPAgent, agent)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var c model.Checkout
	json.NewDecoder(resp.Body).Decode(&c)
	return resp, c
}

func TestServerFlow(t *testing.T) {
	srv := newTestServer(t)
	agent := fmt.Sprintf(`profile="%s/profiles/platform.json"`, srv.URL)

	resp, created := doJSON(t, "POST", srv.URL+"/checkout-sessions", agent, `{"line_items":[{"item":{"id":"bouquet_roses"},"quantity":2}]}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	if resp.Header.Get(middleware.HeaderRequestID) == "" {
		t.Error("Request-Id not echoed")
	}
	if created.Status != model.StatusIncomplete || !strings.HasPrefix(created.ID, "chk_") {
		t.Fatalf("created = %s %s", created.ID, created.Status)
	}
	base := srv.URL + "/checkout-sessions/" + created.ID

	_, minted := doJSON(t, "POST", base+"/mint-instrument", agent, "")
	if minted.Status != model.StatusReadyForComplete || minted.Payment.SelectedInstrumentID != "inst_"+created.ID {
		t.Errorf("minted = %s selected=%s", minted.Status, minted.Payment.SelectedInstrumentID)
	}

	resp, completed := doJSON(t, "POST", base+"/complete", agent, `{}`)
	if resp.StatusCode != http.StatusOK || completed.Status != model.StatusCompleted {
		t.Fatalf("complete = %d %s", resp.StatusCode, completed.Status)
	}
	if completed.Order == nil || completed.Order.PermalinkURL != "https://example.com/orders/order_"+created.ID {
		t.Errorf("Order = %+v", completed.Order)
	}

	// Terminal sessions ignore updates and say so.
	_, updated := doJSON(t, "PUT", base, "", `{"line_items":[{"item":{"id":"tulips"},"quantity":1}]}`)
	if updated.Status != model.StatusCompleted || len(updated.Messages) == 0 {
		t.Errorf("update on completed = %s messages=%v", updated.Status, updated.Messages)
	}

	resp, _ = doJSON(t, "GET", srv.URL+"/checkout-sessions/chk_missing", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing status = %d", resp.StatusCode)
	}
}

// An unreachable or malformed agent profile never blocks a request.
func TestServerDegradedProfile(t *testing.T) {
	srv := newTestServer(t)

	for _, agent := range []string{
		`profile="http://127.0.0.1:1/nowhere.json"`,
		`garbage`,
	} {
		resp, c := doJSON(t, "POST", srv.URL+"/checkout-sessions", agent, `{"_platform_profile":{"ucp":{}}}`)
		if resp.StatusCode != http.StatusCreated || c.ID == "" {
			t.Errorf("agent %q: status = %d", agent, resp.StatusCode)
		}
	}
}

func TestServerNegotiationFromHeader(t *testing.T) {
	srv := newTestServer(t)
	agent := fmt.Sprintf(`profile="%s/profiles/platform.json"`, srv.URL)

	req, _ := http.NewRequest("POST", srv.URL+"/ucp/negotiation", nil)
	req.Header.Set(middleware.HeaderUCPAgent, agent)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var result negotiation.Result
	json.NewDecoder(resp.Body).Decode(&result)
	if len(result.Capabilities) != 1 || result.Capabilities[0].Name != model.CapabilityCheckout {
		t.Errorf("Capabilities = %+v", result.Capabilities)
	}
	if len(result.PaymentHandlers) != 1 {
		t.Errorf("PaymentHandlers = %+v", result.PaymentHandlers)
	}
}

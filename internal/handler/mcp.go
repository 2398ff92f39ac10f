// MCP transport for the checkout API using the official MCP Go SDK.
// Exposes the checkout operations and capability negotiation as MCP tools.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"ucp-checkout/internal/adapter"
	"ucp-checkout/internal/model"
	"ucp-checkout/internal/negotiation"
)

// === MCP Meta Types ===
// meta carries what REST sends as headers:
// - UCP-Agent header → meta["ucp-agent"]
// - Idempotency-Key header → meta["idempotency-key"]

// MCPMeta represents request metadata in MCP requests.
type MCPMeta struct {
	UCPAgent       *UCPAgentMeta `json:"ucp-agent,omitempty"`
	IdempotencyKey string        `json:"idempotency-key,omitempty"`
}

// UCPAgentMeta identifies the calling platform.
type UCPAgentMeta struct {
	Profile string `json:"profile"`
	Version string `json:"version,omitempty"`
}

// === MCP Tool Input Types ===
// Params are {meta?, id?, checkout?}. Opaque documents (payment data,
// instruments, capability entries) are typed as JSON objects so the
// inferred input schemas accept them.

// CreateCheckoutInput is the input schema for create_checkout tool.
type CreateCheckoutInput struct {
	Meta     *MCPMeta               `json:"meta,omitempty" jsonschema:"request metadata"`
	Checkout *CreateCheckoutPayload `json:"checkout,omitempty" jsonschema:"checkout data"`
}

// CreateCheckoutPayload contains the checkout creation data.
type CreateCheckoutPayload struct {
	LineItems []model.LineItemRequest `json:"line_items,omitempty" jsonschema:"line items; the default product is used when empty"`
}

// CheckoutIDInput is the input schema for tools that only take an id.
type CheckoutIDInput struct {
	Meta *MCPMeta `json:"meta,omitempty" jsonschema:"request metadata"`
	ID   string   `json:"id" jsonschema:"checkout ID"`
}

// UpdateCheckoutInput is the input schema for update_checkout tool.
type UpdateCheckoutInput struct {
	Meta     *MCPMeta               `json:"meta,omitempty" jsonschema:"request metadata"`
	ID       string                 `json:"id" jsonschema:"checkout ID"`
	Checkout *UpdateCheckoutPayload `json:"checkout,omitempty" jsonschema:"checkout data"`
}

// UpdateCheckoutPayload contains the checkout update data.
type UpdateCheckoutPayload struct {
	LineItems []model.LineItemRequest `json:"line_items,omitempty" jsonschema:"replacement line items; empty keeps the current ones"`
}

// CompleteCheckoutInput is the input schema for complete_checkout tool.
type CompleteCheckoutInput struct {
	Meta     *MCPMeta                 `json:"meta,omitempty" jsonschema:"request metadata"`
	ID       string                   `json:"id" jsonschema:"checkout ID"`
	Checkout *CompleteCheckoutPayload `json:"checkout,omitempty" jsonschema:"checkout data"`
}

// CompleteCheckoutPayload contains the payment bound at completion.
type CompleteCheckoutPayload struct {
	PaymentData map[string]any `json:"payment_data,omitempty" jsonschema:"payment instrument to bind"`
	Payment     *PaymentInput  `json:"payment,omitempty" jsonschema:"payment instruments; the selected or first one is bound"`
}

// PaymentInput is the payment object submitted on complete.
type PaymentInput struct {
	Instruments []map[string]any `json:"instruments,omitempty" jsonschema:"payment instruments"`
}

// NegotiateInput is the input schema for negotiate_capabilities tool.
// Without capabilities, the profile referenced by meta.ucp-agent is used.
type NegotiateInput struct {
	Meta            *MCPMeta         `json:"meta,omitempty" jsonschema:"request metadata"`
	Version         string           `json:"version,omitempty" jsonschema:"protocol version the platform speaks"`
	Capabilities    []map[string]any `json:"capabilities,omitempty" jsonschema:"capabilities the platform supports"`
	PaymentHandlers []map[string]any `json:"payment_handlers,omitempty" jsonschema:"payment handlers the platform can process"`
}

// NewMCPServer creates an MCP server with checkout tools registered.
// The server exposes the same operations as the REST API via MCP.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "ucp-checkout",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "UCP checkout - Universal Commerce Protocol checkout sessions. " +
				"Use these tools to create, update, pay for and complete checkout sessions.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_checkout",
		Description: "Create a new checkout session. Without line items, one unit of the default product is added.",
	}, h.mcpCreateCheckout)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_checkout",
		Description: "Get the current state of a checkout session.",
	}, h.mcpGetCheckout)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_checkout",
		Description: "Replace the line items of a checkout session.",
	}, h.mcpUpdateCheckout)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mint_instrument",
		Description: "Bind a test card instrument from the mock payment handler.",
	}, h.mcpMintInstrument)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "complete_checkout",
		Description: "Complete a checkout session and place the order.",
	}, h.mcpCompleteCheckout)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "cancel_checkout",
		Description: "Cancel a checkout session.",
	}, h.mcpCancelCheckout)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "negotiate_capabilities",
		Description: "Intersect platform capabilities and payment handlers with the business profile.",
	}, h.mcpNegotiate)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===
// Outputs are typed any so no output schema is inferred; checkout documents
// carry opaque JSON that a derived schema would reject.

func (h *Handler) mcpCreateCheckout(ctx context.Context, _ *mcp.CallToolRequest, input CreateCheckoutInput) (*mcp.CallToolResult, any, error) {
	ctx = h.mcpResolve(ctx, input.Meta)

	req := &adapter.CreateCheckoutRequest{}
	if input.Checkout != nil {
		req.LineItems = input.Checkout.LineItems
	}

	checkout, err := h.adapter.CreateCheckout(ctx, req)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, checkout, nil
}

func (h *Handler) mcpGetCheckout(ctx context.Context, _ *mcp.CallToolRequest, input CheckoutIDInput) (*mcp.CallToolResult, any, error) {
	ctx = h.mcpResolve(ctx, input.Meta)
	if input.ID == "" {
		return nil, nil, errIDRequired
	}

	checkout, err := h.adapter.GetCheckout(ctx, input.ID)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, checkout, nil
}

func (h *Handler) mcpUpdateCheckout(ctx context.Context, _ *mcp.CallToolRequest, input UpdateCheckoutInput) (*mcp.CallToolResult, any, error) {
	ctx = h.mcpResolve(ctx, input.Meta)
	if input.ID == "" {
		return nil, nil, errIDRequired
	}

	req := &model.CheckoutUpdateRequest{}
	if input.Checkout != nil {
		req.LineItems = input.Checkout.LineItems
	}

	checkout, err := h.adapter.UpdateCheckout(ctx, input.ID, req)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, checkout, nil
}

func (h *Handler) mcpMintInstrument(ctx context.Context, _ *mcp.CallToolRequest, input CheckoutIDInput) (*mcp.CallToolResult, any, error) {
	ctx = h.mcpResolve(ctx, input.Meta)
	if input.ID == "" {
		return nil, nil, errIDRequired
	}

	checkout, err := h.adapter.MintInstrument(ctx, input.ID)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, checkout, nil
}

func (h *Handler) mcpCompleteCheckout(ctx context.Context, _ *mcp.CallToolRequest, input CompleteCheckoutInput) (*mcp.CallToolResult, any, error) {
	ctx = h.mcpResolve(ctx, input.Meta)
	if input.ID == "" {
		return nil, nil, errIDRequired
	}

	req, err := completeRequest(input.Checkout)
	if err != nil {
		return nil, nil, err
	}

	checkout, err := h.adapter.CompleteCheckout(ctx, input.ID, req)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, checkout, nil
}

func (h *Handler) mcpCancelCheckout(ctx context.Context, _ *mcp.CallToolRequest, input CheckoutIDInput) (*mcp.CallToolResult, any, error) {
	ctx = h.mcpResolve(ctx, input.Meta)
	if input.ID == "" {
		return nil, nil, errIDRequired
	}

	checkout, err := h.adapter.CancelCheckout(ctx, input.ID)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, checkout, nil
}

func (h *Handler) mcpNegotiate(ctx context.Context, _ *mcp.CallToolRequest, input NegotiateInput) (*mcp.CallToolResult, any, error) {
	ctx = h.mcpResolve(ctx, input.Meta)

	var platform negotiation.Platform
	if input.Capabilities == nil && input.PaymentHandlers == nil {
		res := negotiation.FromContext(ctx)
		if res != nil {
			platform = negotiation.PlatformFromProfile(res.Profile, res.AgentVersion)
		}
	} else {
		caps, err := json.Marshal(input.Capabilities)
		if err != nil {
			return nil, nil, err
		}
		handlers, err := json.Marshal(input.PaymentHandlers)
		if err != nil {
			return nil, nil, err
		}
		platform = negotiation.Platform{
			Version:         input.Version,
			Capabilities:    negotiation.ParseCapabilities(caps),
			PaymentHandlers: negotiation.ParsePaymentHandlers(handlers),
		}
	}
	if input.Version != "" {
		platform.Version = input.Version
	}

	negotiator, err := h.negotiatorFor(ctx)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, negotiator.Intersect(platform), nil
}

var errIDRequired = errors.New("id is required")

// completeRequest converts the MCP payload to the engine request.
func completeRequest(p *CompleteCheckoutPayload) (*model.CheckoutCompleteRequest, error) {
	req := &model.CheckoutCompleteRequest{}
	if p == nil {
		return req, nil
	}
	if p.PaymentData != nil {
		doc, err := model.NewDocument(p.PaymentData)
		if err != nil {
			return nil, err
		}
		req.PaymentData = doc
	}
	if p.Payment != nil {
		req.Payment = &model.PaymentSubmission{Instruments: make([]model.Document, 0, len(p.Payment.Instruments))}
		for _, inst := range p.Payment.Instruments {
			doc, err := model.NewDocument(inst)
			if err != nil {
				return nil, err
			}
			req.Payment.Instruments = append(req.Payment.Instruments, doc)
		}
	}
	return req, nil
}

// mcpError converts adapter errors to MCP-friendly errors.
func (h *Handler) mcpError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	// Don't leak internal error details
	h.logger.Error("mcp internal error", slog.String("error", err.Error()))
	return errors.New("INTERNAL_ERROR: an internal error occurred")
}

// mcpResolve resolves the platform profile named in meta.ucp-agent and stores
// the result in ctx, the way the REST middleware does for the UCP-Agent header.
// Resolution never fails the call.
func (h *Handler) mcpResolve(ctx context.Context, meta *MCPMeta) context.Context {
	if h.resolver == nil {
		return ctx
	}

	var desc negotiation.AgentDescriptor
	if meta != nil && meta.UCPAgent != nil {
		desc = negotiation.AgentDescriptor{ProfileURL: meta.UCPAgent.Profile, Version: meta.UCPAgent.Version}
	}
	res := h.resolver.ResolveURL(ctx, desc)

	idempotencyKey := ""
	if meta != nil {
		idempotencyKey = meta.IdempotencyKey
	}
	h.logger.DebugContext(ctx, "mcp profile resolved",
		slog.String("source", res.Source),
		slog.Bool("degraded", res.Degraded()),
		slog.String("idempotency_key", idempotencyKey),
	)
	return negotiation.WithResolution(ctx, res)
}

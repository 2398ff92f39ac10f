// ucpclient is a CLI tool for testing UCP checkout flows.
// Each command performs a single operation, making it composable for scripts.
//
// Commands:
//
//	ucpclient discover -server URL
//	ucpclient negotiate -server URL
//	ucpclient create -server URL [-product ID] [-qty N]
//	ucpclient get -server URL -id <checkout-id>
//	ucpclient update -server URL -id <checkout-id> -product ID [-qty N]
//	ucpclient mint -server URL -id <checkout-id>
//	ucpclient complete -server URL -id <checkout-id> [-token success_token]
//	ucpclient cancel -server URL -id <checkout-id>
//
// Examples:
//
//	ID=$(ucpclient create -product bouquet_roses -qty 2 -q)
//	ucpclient mint -id $ID
//	ucpclient complete -id $ID
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"ucp-checkout/internal/model"
)

var client = &http.Client{Timeout: 30 * time.Second}

// Global flags (apply to all commands)
var (
	serverURL   string
	quiet       bool
	noColor     bool
	verbose     bool
	noAgent     bool   // Skip the UCP-Agent header entirely
	profilePort int    // Port to serve agent profile on (0 = auto-select)
	profileFile string // Path to agent profile JSON file
	profileURL  string // Computed profile URL (set when server starts)
)

// Profile server management
var (
	profileServer   *http.Server
	profileServerMu sync.Mutex
)

// ANSI color codes
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func init() {
	if os.Getenv("NO_COLOR") != "" {
		disableColors()
	}
}

func disableColors() {
	colorReset, colorRed, colorGreen, colorYellow = "", "", "", ""
	colorBlue, colorCyan, colorGray, colorBold = "", "", "", ""
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "discover":
		runDiscover(args)
	case "negotiate":
		runNegotiate(args)
	case "create":
		runCreate(args)
	case "get":
		runGet(args)
	case "update":
		runUpdate(args)
	case "mint":
		runMint(args)
	case "complete":
		runComplete(args)
	case "cancel":
		runCancel(args)
	case "-h", "-help", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `ucpclient - UCP checkout flow test tool

Usage:
  ucpclient <command> [options]

Commands:
  discover   Fetch the business discovery profile
  negotiate  Negotiate capabilities using the agent profile
  create     Create a new checkout
  get        Get current checkout state
  update     Replace checkout line items
  mint       Bind a test card instrument
  complete   Complete checkout and place the order
  cancel     Cancel checkout

Examples:
  # Create checkout and capture ID
  ID=$(ucpclient create -product bouquet_roses -qty 2 -q)

  # Swap the cart contents
  ucpclient update -id "$ID" -product bouquet_tulips -qty 3

  # Pay and place the order
  ucpclient mint -id "$ID"
  ucpclient complete -id "$ID"

Run 'ucpclient <command> -h' for command-specific options.
`)
}

// newFlagSet registers the flags every command shares.
func newFlagSet(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&serverURL, "server", envOr("UCP_SERVER", "http://localhost:8080"), "UCP checkout server base URL")
	fs.BoolVar(&quiet, "q", false, "Quiet mode - only output the key result")
	fs.BoolVar(&noColor, "no-color", false, "Disable colored output")
	fs.BoolVar(&verbose, "v", false, "Verbose - show full request/response")
	fs.BoolVar(&noAgent, "no-agent", false, "Do not send a UCP-Agent header")
	fs.IntVar(&profilePort, "profile-port", 0, "Port to serve agent profile (0=auto-select)")
	fs.StringVar(&profileFile, "profile-file", "", "Path to agent profile JSON (uses default if not set)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ucpclient %s\n\nOptions:\n", usage)
		fs.PrintDefaults()
	}
	return fs
}

// setup applies the shared flags after parsing and starts the profile server.
// The returned func stops it.
func setup() func() {
	if noColor {
		disableColors()
	}
	serverURL = strings.TrimSuffix(serverURL, "/")
	if noAgent {
		return func() {}
	}
	if err := ensureProfileServer(); err != nil {
		fatal("Failed to start profile server: %v", err)
	}
	return stopProfileServer
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// =============================================================================
// PROFILE SERVER
// =============================================================================

// startProfileServer starts an HTTP server to serve the agent profile.
// Returns the profile URL that should be sent in UCP-Agent header.
func startProfileServer(port int, profileData []byte) (string, error) {
	profileServerMu.Lock()
	defer profileServerMu.Unlock()

	if _, err := model.ParseDocument(profileData); err != nil {
		return "", fmt.Errorf("invalid profile: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/profile", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "max-age=300")
		w.Write(profileData)
	})

	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return "", fmt.Errorf("starting profile server: %w", err)
	}

	actualPort := listener.Addr().(*net.TCPAddr).Port
	profURL := fmt.Sprintf("http://localhost:%d/profile", actualPort)

	profileServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := profileServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "Profile server error: %v\n", err)
		}
	}()

	return profURL, nil
}

// stopProfileServer gracefully shuts down the profile server.
func stopProfileServer() {
	profileServerMu.Lock()
	defer profileServerMu.Unlock()

	if profileServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		profileServer.Shutdown(ctx)
		profileServer = nil
	}
}

// defaultProfileJSON returns a minimal agent profile that supports
// checkout, fulfillment and the mock payment handler.
func defaultProfileJSON() []byte {
	profile := map[string]interface{}{
		"ucp": map[string]interface{}{
			"version": model.UCPVersion,
			"capabilities": []map[string]interface{}{
				{"name": model.CapabilityCheckout, "version": model.UCPVersion},
				{"name": model.CapabilityFulfillment, "version": model.UCPVersion, "extends": model.CapabilityCheckout},
			},
		},
		"payment": map[string]interface{}{
			"handlers": []map[string]interface{}{
				{"id": model.MockPaymentHandlerID, "version": model.UCPVersion},
			},
		},
	}
	data, _ := json.MarshalIndent(profile, "", "  ")
	return data
}

// ensureProfileServer starts the profile server if not already running.
// Uses profileFile if set, otherwise serves the default profile.
func ensureProfileServer() error {
	profileServerMu.Lock()
	if profileServer != nil {
		profileServerMu.Unlock()
		return nil
	}
	profileServerMu.Unlock()

	data := defaultProfileJSON()
	if profileFile != "" {
		var err error
		if data, err = os.ReadFile(profileFile); err != nil {
			return fmt.Errorf("reading profile file: %w", err)
		}
	}

	u, err := startProfileServer(profilePort, data)
	if err != nil {
		return err
	}
	profileURL = u

	printInfo("Profile server started at %s", profileURL)
	return nil
}

// =============================================================================
// DISCOVERY & NEGOTIATION
// =============================================================================

func runDiscover(args []string) {
	fs := newFlagSet("discover", "discover [options]")
	fs.Parse(args)
	defer setup()()

	var profile model.DiscoveryProfile
	if err := doRequest("GET", "/.well-known/ucp", nil, &profile); err != nil {
		fatal("Failed to fetch discovery profile: %v", err)
	}

	if quiet {
		fmt.Println(profile.UCP.Version)
		return
	}
	printSuccess("Discovery profile retrieved")
	fmt.Printf("  Version: %s%s%s\n", colorCyan, profile.UCP.Version, colorReset)
	for _, c := range profile.UCP.Capabilities {
		fmt.Printf("  Capability: %s (%s)\n", c.Name, c.Version)
	}
	if profile.Payment != nil {
		for _, h := range profile.Payment.Handlers {
			fmt.Printf("  Payment handler: %s (%s)\n", h.ID, h.Version)
		}
	}
}

// negotiationResult mirrors the negotiation endpoint response.
type negotiationResult struct {
	Version         string                 `json:"version"`
	Capabilities    []model.CapabilityRef  `json:"capabilities"`
	PaymentHandlers []model.PaymentHandler `json:"payment_handlers"`
	Messages        []model.Message        `json:"messages"`
}

func runNegotiate(args []string) {
	fs := newFlagSet("negotiate", "negotiate [options]")
	fs.Parse(args)
	defer setup()()

	// An empty body negotiates against the profile named in UCP-Agent.
	var result negotiationResult
	if err := doRequest("POST", "/ucp/negotiation", nil, &result); err != nil {
		fatal("Failed to negotiate: %v", err)
	}

	printMessages(result.Messages)

	names := make([]string, 0, len(result.Capabilities))
	for _, c := range result.Capabilities {
		names = append(names, c.Name)
	}
	if quiet {
		fmt.Println(strings.Join(names, ","))
		return
	}
	printSuccess("Negotiated %d capabilities", len(names))
	for _, n := range names {
		fmt.Printf("  - %s\n", n)
	}
	for _, h := range result.PaymentHandlers {
		fmt.Printf("  Payment handler: %s\n", h.ID)
	}
}

// =============================================================================
// CHECKOUT COMMANDS
// =============================================================================

func runCreate(args []string) {
	fs := newFlagSet("create", "create [-product ID] [options]")
	var productID string
	var quantity int
	fs.StringVar(&productID, "product", "", "Product ID (default product when empty)")
	fs.IntVar(&quantity, "qty", 1, "Quantity")
	fs.Parse(args)
	defer setup()()

	reqBody := map[string]interface{}{}
	if productID != "" {
		reqBody["line_items"] = []model.LineItemRequest{
			{Item: &model.ItemRef{ID: productID}, Quantity: quantity},
		}
	}

	checkout, err := checkoutRequest("POST", "/checkout-sessions", reqBody)
	if err != nil {
		fatal("Failed to create checkout: %v", err)
	}

	if quiet {
		fmt.Println(checkout.ID)
		return
	}
	printSuccess("Checkout created")
	printCheckout(checkout)
}

func runGet(args []string) {
	fs := newFlagSet("get", "get -id <checkout-id> [options]")
	checkoutID := fs.String("id", "", "Checkout ID (required)")
	fs.Parse(args)
	requireID(fs, *checkoutID)
	defer setup()()

	checkout, err := checkoutRequest("GET", checkoutPath(*checkoutID, ""), nil)
	if err != nil {
		fatal("Failed to get checkout: %v", err)
	}

	if quiet {
		fmt.Println(checkout.Status)
		return
	}
	printSuccess("Checkout retrieved")
	printCheckout(checkout)
}

func runUpdate(args []string) {
	fs := newFlagSet("update", "update -id <checkout-id> -product ID [options]")
	checkoutID := fs.String("id", "", "Checkout ID (required)")
	var products multiFlag
	var quantity int
	fs.Var(&products, "product", "Product ID; repeat for several line items (required)")
	fs.IntVar(&quantity, "qty", 1, "Quantity for each product")
	fs.Parse(args)
	requireID(fs, *checkoutID)
	if len(products) == 0 {
		fmt.Fprintf(os.Stderr, "Error: at least one -product is required\n\n")
		fs.Usage()
		os.Exit(1)
	}
	defer setup()()

	items := make([]model.LineItemRequest, 0, len(products))
	for _, p := range products {
		items = append(items, model.LineItemRequest{Item: &model.ItemRef{ID: p}, Quantity: quantity})
	}

	checkout, err := checkoutRequest("PUT", checkoutPath(*checkoutID, ""), model.CheckoutUpdateRequest{LineItems: items})
	if err != nil {
		fatal("Failed to update checkout: %v", err)
	}

	if quiet {
		fmt.Println(checkout.Status)
		return
	}
	printSuccess("Checkout updated")
	printCheckout(checkout)
}

func runMint(args []string) {
	fs := newFlagSet("mint", "mint -id <checkout-id> [options]")
	checkoutID := fs.String("id", "", "Checkout ID (required)")
	fs.Parse(args)
	requireID(fs, *checkoutID)
	defer setup()()

	checkout, err := checkoutRequest("POST", checkoutPath(*checkoutID, "/mint-instrument"), nil)
	if err != nil {
		fatal("Failed to mint instrument: %v", err)
	}

	if quiet {
		fmt.Println(checkout.Payment.SelectedInstrumentID)
		return
	}
	printSuccess("Instrument minted")
	printCheckout(checkout)
}

func runComplete(args []string) {
	fs := newFlagSet("complete", "complete -id <checkout-id> [options]")
	checkoutID := fs.String("id", "", "Checkout ID (required)")
	token := fs.String("token", "", "Submit a mock token instrument as payment_data (e.g. success_token); empty keeps the minted instrument")
	fs.Parse(args)
	requireID(fs, *checkoutID)
	defer setup()()

	reqBody := map[string]interface{}{}
	if *token != "" {
		reqBody["payment_data"] = model.PaymentInstrument{
			ID:         "cli_instrument",
			HandlerID:  model.MockPaymentHandlerID,
			Type:       "card",
			Brand:      "visa",
			LastDigits: "4242",
			Credential: &model.TokenCredential{Type: "token", Token: *token},
		}
	}

	checkout, err := checkoutRequest("POST", checkoutPath(*checkoutID, "/complete"), reqBody)
	if err != nil {
		fatal("Failed to complete checkout: %v", err)
	}

	if quiet {
		fmt.Println(checkout.Status)
		if checkout.Order != nil {
			fmt.Println(checkout.Order.PermalinkURL)
		}
		return
	}

	switch checkout.Status {
	case model.StatusCompleted:
		printSuccess("Order placed!")
		if checkout.Order != nil {
			fmt.Printf("  Order ID: %s%s%s\n", colorGreen, checkout.Order.ID, colorReset)
			fmt.Printf("  Order URL: %s%s%s\n", colorBlue, checkout.Order.PermalinkURL, colorReset)
		}
	default:
		printWarning("Status: %s", checkout.Status)
	}
}

func runCancel(args []string) {
	fs := newFlagSet("cancel", "cancel -id <checkout-id> [options]")
	checkoutID := fs.String("id", "", "Checkout ID (required)")
	fs.Parse(args)
	requireID(fs, *checkoutID)
	defer setup()()

	checkout, err := checkoutRequest("POST", checkoutPath(*checkoutID, "/cancel"), nil)
	if err != nil {
		fatal("Failed to cancel checkout: %v", err)
	}

	if quiet {
		fmt.Println(checkout.Status)
		return
	}
	printSuccess("Checkout canceled")
	fmt.Printf("  Status: %s%s%s\n", colorCyan, checkout.Status, colorReset)
}

func requireID(fs *flag.FlagSet, id string) {
	if id == "" {
		fs.Usage()
		os.Exit(1)
	}
}

func checkoutPath(id, suffix string) string {
	return "/checkout-sessions/" + url.PathEscape(id) + suffix
}

// multiFlag collects a repeated string flag.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

// =============================================================================
// HTTP HELPERS
// =============================================================================

// checkoutRequest performs a checkout operation and prints its messages.
func checkoutRequest(method, path string, body interface{}) (*model.Checkout, error) {
	var checkout model.Checkout
	if err := doRequest(method, path, body, &checkout); err != nil {
		return nil, err
	}
	printMessages(checkout.Messages)
	return &checkout, nil
}

func doRequest(method, path string, body, out interface{}) error {
	var reqBody io.Reader
	var reqJSON []byte

	if body != nil {
		var err error
		reqJSON, err = json.MarshalIndent(body, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(reqJSON)
	}

	req, err := http.NewRequest(method, serverURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if profileURL != "" {
		req.Header.Set("UCP-Agent", fmt.Sprintf(`profile="%s"; version="%s"`, profileURL, model.UCPVersion))
	}

	if !quiet {
		printRequest(method, path, reqJSON)
	}

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if !quiet {
		printResponse(resp.StatusCode, respBody, duration)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorText(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// errorText extracts a readable message from either error body shape.
func errorText(body []byte) string {
	var shaped struct {
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Messages []model.Message `json:"messages"`
	}
	if err := json.Unmarshal(body, &shaped); err == nil {
		if shaped.Error != nil {
			return shaped.Error.Code + ": " + shaped.Error.Message
		}
		if len(shaped.Messages) > 0 {
			return shaped.Messages[0].Code + ": " + shaped.Messages[0].Content
		}
	}
	return strings.TrimSpace(string(body))
}

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

func printCheckout(c *model.Checkout) {
	fmt.Printf("  ID: %s%s%s\n", colorCyan, c.ID, colorReset)
	fmt.Printf("  Status: %s%s%s\n", colorCyan, c.Status, colorReset)
	for _, li := range c.LineItems {
		amount, _ := model.AmountOf(li.Totals, model.TotalTypeTotal)
		fmt.Printf("    - %s x%d  %s\n", li.Item.Title, li.Quantity, model.FormatMinorUnits(amount, c.Currency))
	}
	if total, ok := model.AmountOf(c.Totals, model.TotalTypeTotal); ok {
		fmt.Printf("  Total: %s%s%s\n", colorGreen, model.FormatMinorUnits(total, c.Currency), colorReset)
	}
	if c.Payment.SelectedInstrumentID != "" {
		fmt.Printf("  Instrument: %s\n", c.Payment.SelectedInstrumentID)
	}
	if c.ExpiresAt != nil {
		fmt.Printf("  %sExpires: %s%s\n", colorGray, c.ExpiresAt.Format(time.RFC3339), colorReset)
	}
}

func printRequest(method, path string, body []byte) {
	fmt.Printf("\n%s▶ REQUEST%s %s%s %s%s\n", colorYellow, colorReset, colorBold, method, path, colorReset)
	if body != nil {
		printJSON(body, "  ")
	}
}

func printResponse(status int, body []byte, duration time.Duration) {
	statusColor := colorGreen
	if status >= 400 {
		statusColor = colorRed
	}
	fmt.Printf("\n%s◀ RESPONSE%s %s%d%s (%v)\n", colorCyan, colorReset, statusColor, status, colorReset, duration)
	printJSON(body, "  ")
}

func printJSON(data []byte, prefix string) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, prefix, "  "); err != nil {
		fmt.Printf("%s%s\n", prefix, string(data))
		return
	}

	output := pretty.String()
	if !verbose {
		lines := strings.Split(output, "\n")
		if len(lines) > 30 {
			lines = append(lines[:25], fmt.Sprintf("%s  %s(%d more lines, use -v for full output)%s", prefix, colorGray, len(lines)-25, colorReset))
			output = strings.Join(lines, "\n")
		}
	}
	fmt.Println(output)
}

func printSuccess(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf("%s✓ %s%s\n", colorGreen, fmt.Sprintf(format, args...), colorReset)
	}
}

func printError(format string, args ...interface{}) {
	fmt.Printf("%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
}

func printWarning(format string, args ...interface{}) {
	fmt.Printf("%s⚠ %s%s\n", colorYellow, fmt.Sprintf(format, args...), colorReset)
}

func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf("%s→ %s%s\n", colorGray, fmt.Sprintf(format, args...), colorReset)
	}
}

func printMessages(messages []model.Message) {
	if quiet {
		return
	}
	for _, msg := range messages {
		text := msg.Content
		if text == "" {
			text = msg.Code
		}
		if text == "" {
			continue
		}

		switch msg.Type {
		case "error":
			printError("%s", text)
		case "warning":
			printWarning("%s", text)
		default:
			fmt.Printf("%s  ℹ %s%s\n", colorGray, text, colorReset)
		}
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
	os.Exit(1)
}

// UCP checkout server - serves checkout sessions over REST and MCP.
// Designed for Cloud Run deployment; sessions live in process memory.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"ucp-checkout/internal/catalog"
	"ucp-checkout/internal/checkout"
	"ucp-checkout/internal/config"
	"ucp-checkout/internal/handler"
	"ucp-checkout/internal/metrics"
	"ucp-checkout/internal/middleware"
	"ucp-checkout/internal/negotiation"
	"ucp-checkout/internal/observability"
	"ucp-checkout/internal/pricing"
	"ucp-checkout/internal/ratelimit"
	"ucp-checkout/internal/transport"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := initLogger(cfg)
	logger.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.String("merchant_id", cfg.MerchantID),
		slog.String("base_url", cfg.PublicBaseURL()),
		slog.String("catalog_file", cfg.CatalogFile),
	)

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName: "ucp-checkout",
		Environment: cfg.Environment,
		Version:     version,
		Exporter:    cfg.Tracing,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.Environment != "production",
	}, logger)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}

	m := metrics.New()

	products, err := loadCatalog(cfg.CatalogFile)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	logger.Info("catalog loaded", slog.Int("products", products.Len()))

	fee, charged := cfg.FulfillmentFee(pricing.DefaultFulfillmentFee)
	business := cfg.BuildBusinessConfig()

	svc, err := checkout.New(checkout.Config{
		Store:   checkout.NewMemoryStore(),
		Catalog: products,
		Pricing: pricing.New(pricing.Options{
			FulfillmentFee:     fee,
			FulfillmentLabel:   cfg.Business.FulfillmentLabel,
			DisableFulfillment: !charged,
		}),
		Business: business,
		Metrics:  m,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("creating checkout service: %w", err)
	}

	fetcher, err := newProfileFetcher(cfg, m)
	if err != nil {
		return fmt.Errorf("creating profile fetcher: %w", err)
	}
	resolver := negotiation.NewResolver(fetcher, m, logger)
	negotiator := negotiation.NewNegotiator(business.DiscoveryProfile())

	h := handler.New(svc, negotiator, resolver, m, logger)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Recovery is outermost so it also catches panics from logging.
	// Rate limiting runs before profile resolution so throttled callers
	// never trigger an outbound fetch.
	httpHandler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestMetadata(),
		middleware.Logging(logger),
		middleware.RateLimit(ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst, ratelimit.DefaultIdleTTL), m, logger),
		negotiation.Middleware(resolver),
	)(mux)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Serve until SIGINT/SIGTERM, then drain in-flight requests.
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		logger.Info("server starting",
			slog.String("addr", server.Addr),
			slog.String("version", version),
		)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}

// loadCatalog returns the embedded sample catalog, an empty one, or the
// products read from a CSV or YAML file.
func loadCatalog(path string) (*catalog.Memory, error) {
	switch path {
	case "":
		return catalog.Default(), nil
	case config.CatalogNone:
		return catalog.NewMemory(), nil
	default:
		return catalog.LoadFile(path)
	}
}

// newProfileFetcher builds the platform profile fetcher, dialing with a
// browser TLS fingerprint when one is configured.
func newProfileFetcher(cfg *config.Config, m *metrics.Metrics) (*negotiation.HTTPProfileFetcher, error) {
	fc := negotiation.ProfileFetcherConfig{
		CacheTTL:     cfg.ProfileCacheTTL,
		FetchTimeout: cfg.ProfileFetchTimeout,
		Metrics:      m,
	}

	hello, ok, err := transport.ParseFingerprint(cfg.ProfileTLSFingerprint)
	if err != nil {
		return nil, err
	}
	if ok {
		fc.Transport = transport.NewFingerprintTransport(hello, cfg.ProfileFetchTimeout)
	}
	return negotiation.NewHTTPProfileFetcherWithConfig(fc), nil
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for GCP Cloud Logging compatibility.
// Development uses text format for readability.
func initLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if cfg.Environment == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

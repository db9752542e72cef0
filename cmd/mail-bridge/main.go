// Package main is the entry point for the mail bridge: an SMTP submission
// server relaying through a transactional backend and an IMAP server
// answering mailbox queries from the inbound message store.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shineum/mail-bridge/internal/config"
	"github.com/shineum/mail-bridge/internal/directory"
	"github.com/shineum/mail-bridge/internal/imap"
	"github.com/shineum/mail-bridge/internal/relay"
	"github.com/shineum/mail-bridge/internal/relay/ses"
	"github.com/shineum/mail-bridge/internal/relay/stdout"
	"github.com/shineum/mail-bridge/internal/relay/storerelay"
	"github.com/shineum/mail-bridge/internal/smtp"
	"github.com/shineum/mail-bridge/internal/store"
	mailtls "github.com/shineum/mail-bridge/internal/tls"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Provision the credential directory
	dir := directory.New()
	for _, u := range cfg.Users {
		if err := dir.Add(u.Email, u.Password); err != nil {
			slog.Error("failed to provision user", "email", u.Email, "error", err)
			os.Exit(1)
		}
	}
	slog.Info("provisioned users", "count", dir.Len())

	// TLS for both listeners
	tlsConfig, tlsMode := setupTLS(cfg)

	// Inbound message store
	st := selectStore(ctx, cfg)

	// Outbound relay
	rly := selectRelay(ctx, cfg, st)

	imapServer := imap.New(imap.ServerConfig{
		ListenAddr: cfg.IMAP.Listen,
		Domain:     cfg.Domain,
		Directory:  dir,
		Store:      st,
		Prefix:     cfg.Store.Prefix,
		TLSConfig:  tlsConfig,
	})

	smtpServer := smtp.New(smtp.ServerConfig{
		ListenAddr:  cfg.SMTP.Listen,
		Domain:      cfg.Domain,
		Directory:   dir,
		Relay:       rly,
		TLSConfig:   tlsConfig,
		ImplicitTLS: cfg.SMTP.ImplicitTLS,
	})

	slog.Info("starting mail-bridge",
		"domain", cfg.Domain,
		"imap_listen", cfg.IMAP.Listen,
		"smtp_listen", cfg.SMTP.Listen,
		"relay", rly.Name(),
		"tls_mode", tlsMode,
	)

	// Setup graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, initiating shutdown", "signal", sig)
		cancel()
	}()

	// Run both servers; either one failing to listen stops the process.
	errCh := make(chan error, 2)
	go func() { errCh <- imapServer.ListenAndServe(ctx) }()
	go func() { errCh <- smtpServer.ListenAndServe(ctx) }()

	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			slog.Error("server error", "error", err)
			cancel()
			os.Exit(1)
		}
	}

	slog.Info("mail-bridge stopped")
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// setupTLS builds the shared TLS config, or none when disabled.
func setupTLS(cfg *config.Config) (tlsConfig *tls.Config, mode string) {
	if cfg.TLS.Disabled {
		return nil, "disabled"
	}

	tc, err := mailtls.LoadOrGenerate(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.Domain)
	if err != nil {
		slog.Error("failed to setup TLS", "error", err)
		os.Exit(1)
	}

	mode = "self-signed"
	if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
		mode = "file"
	}
	return tc, mode
}

// selectStore chooses the inbound message store. A configured bucket
// selects S3; otherwise an in-memory store serves local development.
func selectStore(ctx context.Context, cfg *config.Config) store.Store {
	if cfg.S3Backed() {
		slog.Info("using S3 message store",
			"bucket", cfg.Store.Bucket,
			"prefix", cfg.Store.Prefix,
			"region", cfg.Store.Region,
		)
		s, err := store.NewS3(ctx, store.S3Config{
			Region:          cfg.Store.Region,
			Bucket:          cfg.Store.Bucket,
			AccessKeyID:     cfg.Relay.AccessKeyID,
			SecretAccessKey: cfg.Relay.SecretAccessKey,
		})
		if err != nil {
			slog.Error("failed to create S3 store", "error", err)
			os.Exit(1)
		}
		return s
	}

	slog.Info("no bucket configured, using in-memory message store")
	return store.NewMem()
}

// selectRelay chooses the outbound delivery backend based on configuration.
func selectRelay(ctx context.Context, cfg *config.Config, st store.Store) relay.Relay {
	switch provider := cfg.ResolveRelayProvider(); provider {
	case "ses":
		slog.Info("using SES relay", "region", cfg.Relay.Region)
		r, err := ses.New(ctx, ses.Config{
			Region:          cfg.Relay.Region,
			AccessKeyID:     cfg.Relay.AccessKeyID,
			SecretAccessKey: cfg.Relay.SecretAccessKey,
		})
		if err != nil {
			slog.Error("failed to create SES relay", "error", err)
			os.Exit(1)
		}
		return r

	case "store":
		slog.Info("using store-backed relay", "prefix", cfg.Store.Prefix)
		return storerelay.New(st, cfg.Store.Prefix, cfg.Domain)

	case "stdout":
		slog.Info("using stdout relay")
		return stdout.New()

	default:
		slog.Error("unknown relay provider", "provider", provider)
		os.Exit(1)
		return nil
	}
}

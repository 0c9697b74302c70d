package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/appayureze-cloud/astra/internal/adherence"
	"github.com/appayureze-cloud/astra/internal/api"
	"github.com/appayureze-cloud/astra/internal/auth"
	"github.com/appayureze-cloud/astra/internal/conversation"
	"github.com/appayureze-cloud/astra/internal/documents"
	"github.com/appayureze-cloud/astra/internal/genai"
	"github.com/appayureze-cloud/astra/internal/identity"
	"github.com/appayureze-cloud/astra/internal/messaging"
	"github.com/appayureze-cloud/astra/internal/notify"
	"github.com/appayureze-cloud/astra/internal/store"
	"github.com/appayureze-cloud/astra/internal/twiliowhatsapp"
	"github.com/appayureze-cloud/astra/internal/util"
	"github.com/appayureze-cloud/astra/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultShutdownTimeout bounds graceful shutdown of the API server.
	DefaultShutdownTimeout = 10 * time.Second
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("Astra failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Astra exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       string
	OpenAIKey     string
	APIAddr       string
	Backend       string
	NumericLogin  bool
	GatewayURL    string
	GatewayKey    string
	WhatsAppDSN   string
	IdentityURL   string
	IdentityKey   string
	DocumentsURL  string
	DocumentsKey  string
	MailURL       string
	MailKey       string
}

// Flags holds command line flag values
type Flags struct {
	config    Config
	dbDSN     *string
	apiAddr   *string
	backend   *string
	openaiKey *string
	redisAddr *string
	qrOutput  *string
	numeric   *bool
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       os.Getenv("REDIS_DB"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		APIAddr:       os.Getenv("API_ADDR"),
		Backend:       util.GetenvDefault("MESSAGING_BACKEND", "gateway"),
		NumericLogin:  util.ParseBoolEnv("WHATSAPP_NUMERIC_CODE", false),
		GatewayURL:    os.Getenv("GATEWAY_BASE_URL"),
		GatewayKey:    os.Getenv("GATEWAY_API_KEY"),
		WhatsAppDSN:   os.Getenv("WHATSAPP_DB_DSN"),
		IdentityURL:   os.Getenv("IDENTITY_SERVICE_URL"),
		IdentityKey:   os.Getenv("IDENTITY_API_KEY"),
		DocumentsURL:  os.Getenv("DOCUMENTS_SERVICE_URL"),
		DocumentsKey:  os.Getenv("DOCUMENTS_API_KEY"),
		MailURL:       os.Getenv("MAIL_SERVICE_URL"),
		MailKey:       os.Getenv("MAIL_API_KEY"),
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"REDIS_ADDR", config.RedisAddr,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"MESSAGING_BACKEND", config.Backend,
		"GATEWAY_BASE_URL_SET", config.GatewayURL != "",
		"IDENTITY_SERVICE_URL_SET", config.IdentityURL != "",
		"DOCUMENTS_SERVICE_URL_SET", config.DocumentsURL != "",
		"MAIL_SERVICE_URL_SET", config.MailURL != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		config:    config,
		dbDSN:     flag.String("db-dsn", config.DatabaseURL, "session database DSN (overrides $DATABASE_URL)"),
		apiAddr:   flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		backend:   flag.String("backend", config.Backend, "messaging backend: gateway, twilio, or whatsapp (overrides $MESSAGING_BACKEND)"),
		openaiKey: flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		redisAddr: flag.String("redis-addr", config.RedisAddr, "Redis address for OTP challenges (overrides $REDIS_ADDR)"),
		qrOutput:  flag.String("qr-output", "", "path to write WhatsApp login QR code"),
		numeric:   flag.Bool("numeric-code", config.NumericLogin, "use numeric WhatsApp login code instead of QR code (overrides $WHATSAPP_NUMERIC_CODE)"),
	}
	flag.Parse()

	slog.Debug("flags parsed",
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"backend", *flags.backend,
		"openaiKeySet", *flags.openaiKey != "",
		"redisAddr", *flags.redisAddr)

	return flags
}

// buildStore selects the session store backend from the DSN.
func buildStore(flags Flags) (store.Store, error) {
	if *flags.dbDSN == "" {
		slog.Warn("No database DSN provided, using in-memory session store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
}

// buildChallengeStore uses Redis when configured, in-memory otherwise.
func buildChallengeStore(ctx context.Context, flags Flags) (auth.ChallengeStore, error) {
	if *flags.redisAddr == "" {
		slog.Warn("No Redis address provided, using in-memory challenge store")
		return auth.NewInMemoryChallengeStore(), nil
	}
	db := 0
	if flags.config.RedisDB != "" {
		parsed, err := strconv.Atoi(flags.config.RedisDB)
		if err != nil {
			slog.Warn("Invalid REDIS_DB value, using database 0", "value", flags.config.RedisDB)
		} else {
			db = parsed
		}
	}
	return auth.NewRedisChallengeStore(ctx, *flags.redisAddr, flags.config.RedisPassword, db)
}

// buildIdentityProvider uses the account service when configured.
func buildIdentityProvider(config Config) (identity.Provider, error) {
	if config.IdentityURL == "" {
		slog.Warn("No identity service URL provided, using local identity provider")
		return identity.NewLocalProvider(), nil
	}
	return identity.NewClient(identity.WithBaseURL(config.IdentityURL), identity.WithAPIKey(config.IdentityKey))
}

// buildDocumentStorage uses the document service when configured.
func buildDocumentStorage(config Config) (documents.Storage, error) {
	if config.DocumentsURL == "" {
		slog.Warn("No document service URL provided, using in-memory document storage")
		return documents.NewInMemoryStorage(), nil
	}
	return documents.NewClient(documents.WithBaseURL(config.DocumentsURL), documents.WithAPIKey(config.DocumentsKey))
}

// buildMailer uses the mail service when configured. Without one, login codes
// have nowhere to go, so email login is effectively disabled.
func buildMailer(config Config) (notify.Mailer, error) {
	if config.MailURL == "" {
		slog.Warn("No mail service URL provided, email login is disabled")
		return notify.NewMockMailer(), nil
	}
	return notify.NewClient(notify.WithBaseURL(config.MailURL), notify.WithAPIKey(config.MailKey))
}

// buildMessagingService selects the messaging backend.
func buildMessagingService(flags Flags) (messaging.Service, []api.Option, error) {
	switch *flags.backend {
	case "twilio":
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, nil, err
		}
		svc := messaging.NewTwilioService(client)
		return svc, []api.Option{api.WithTwilioWebhook(svc.WebhookHandler)}, nil
	case "whatsapp":
		var waOpts []whatsapp.Option
		if flags.config.WhatsAppDSN != "" {
			waOpts = append(waOpts, whatsapp.WithDBDSN(flags.config.WhatsAppDSN))
		}
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, nil, err
		}
		return messaging.NewWhatsAppService(client), nil, nil
	default:
		svc, err := messaging.NewGatewayService(
			messaging.WithGatewayBaseURL(flags.config.GatewayURL),
			messaging.WithGatewayAPIKey(flags.config.GatewayKey),
		)
		if err != nil {
			return nil, nil, err
		}
		return svc, []api.Option{api.WithWhatsAppWebhook(svc.WebhookHandler)}, nil
	}
}

func run(flags Flags) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	challenges, err := buildChallengeStore(ctx, flags)
	if err != nil {
		return err
	}

	provider, err := buildIdentityProvider(flags.config)
	if err != nil {
		return err
	}
	storage, err := buildDocumentStorage(flags.config)
	if err != nil {
		return err
	}
	mailer, err := buildMailer(flags.config)
	if err != nil {
		return err
	}

	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	gaClient, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return err
	}

	msgService, apiOpts, err := buildMessagingService(flags)
	if err != nil {
		return err
	}
	if err := msgService.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := msgService.Stop(); err != nil {
			slog.Error("Messaging service stop failed", "error", err)
		}
	}()

	verifier := auth.NewVerifier(st, challenges, provider)
	tracker := adherence.NewTracker(st)
	dispatcher := conversation.NewDispatcher(st, verifier, storage, tracker, gaClient, mailer)

	responder := conversation.NewResponder(msgService, dispatcher, st)
	responder.Start(ctx)
	defer responder.Stop()

	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(st, apiOpts...)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	slog.Info("Astra running", "backend", *flags.backend)
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

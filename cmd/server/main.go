package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"
	"github.com/valyala/fasthttp"
	"github.com/whatsapp-ai/wabot/internal/ai"
	"github.com/whatsapp-ai/wabot/internal/auth"
	"github.com/whatsapp-ai/wabot/internal/chat"
	"github.com/whatsapp-ai/wabot/internal/config"
	"github.com/whatsapp-ai/wabot/internal/frontend"
	"github.com/whatsapp-ai/wabot/internal/handlers"
	"github.com/whatsapp-ai/wabot/internal/kv"
	"github.com/whatsapp-ai/wabot/internal/middleware"
	"github.com/whatsapp-ai/wabot/internal/phone"
	"github.com/whatsapp-ai/wabot/internal/ratelimit"
	"github.com/whatsapp-ai/wabot/internal/secrets"
	"github.com/whatsapp-ai/wabot/internal/session"
	"github.com/whatsapp-ai/wabot/internal/webhook"
	"github.com/whatsapp-ai/wabot/internal/websocket"
	"github.com/whatsapp-ai/wabot/internal/worker"
	"github.com/whatsapp-ai/wabot/pkg/whatsapp"
	"github.com/zerodha/fastglue"
	"github.com/zerodha/logf"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

var (
	configPath  = flag.String("config", "config.toml", "Path to config file")
	envFile     = flag.String("env", ".env", "Path to an optional .env file")
	withWorkers = flag.Bool("workers", false, "Run the retention worker inside the server")
)

func newLogger(production bool) logf.Logger {
	if production {
		return logf.New(logf.Opts{
			Level:           logf.InfoLevel,
			TimestampFormat: "2006-01-02 15:04:05",
			DefaultFields:   []any{"app", "wabot"},
		})
	}
	return logf.New(logf.Opts{
		EnableColor:     true,
		Level:           logf.DebugLevel,
		EnableCaller:    true,
		TimestampFormat: "2006-01-02 15:04:05",
		DefaultFields:   []any{"app", "wabot"},
	})
}

func main() {
	flag.Parse()

	lo := newLogger(false)
	lo.Info("Starting WhatsApp AI chatbot...", "version", Version, "build_time", BuildTime)

	// A missing .env is normal outside local development
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		lo.Warn("Failed to read env file", "path", *envFile, "error", err)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		lo.Fatal("Failed to load config", "error", err)
	}

	// Set log level based on environment
	if cfg.App.Environment == "production" {
		lo = newLogger(true)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Secrets.SSMPrefix != "" {
		if err := loadSecrets(ctx, cfg, lo); err != nil {
			lo.Fatal("Failed to load secrets", "error", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		lo.Fatal("Invalid config", "error", err)
	}

	store, err := kv.Open(ctx, cfg, lo)
	if err != nil {
		lo.Fatal("Failed to open storage", "error", err, "backend", cfg.Storage.Backend)
	}

	generator, err := ai.New(cfg.AI, lo)
	if err != nil {
		lo.Fatal("Failed to create AI client", "error", err, "provider", cfg.AI.Provider)
	}

	// Initialize WhatsApp client
	waClient := whatsapp.New(lo)
	if cfg.WhatsApp.BaseURL != "" {
		waClient.BaseURL = strings.TrimSuffix(cfg.WhatsApp.BaseURL, "/")
	}
	account := &whatsapp.Account{
		PhoneID:     cfg.WhatsApp.PhoneID,
		BusinessID:  cfg.WhatsApp.BusinessID,
		APIVersion:  cfg.WhatsApp.APIVersion,
		AccessToken: cfg.WhatsApp.AccessToken,
	}
	if !account.IsConfigured() {
		lo.Warn("WhatsApp account not configured, replies will fail")
	}
	messenger := &handlers.WhatsAppMessenger{Client: waClient, Account: account}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(lo)
	go wsHub.Run()
	lo.Info("WebSocket hub started")

	chats := chat.NewStore(store, lo)
	sessions := session.NewStore(store)

	// Initialize app with dependencies
	app := &handlers.App{
		Config:   cfg,
		Log:      lo,
		KV:       store,
		Chat:     chats,
		Sessions: sessions,
		Verifier: webhook.NewVerifier(webhook.Config{
			VerifyToken:      cfg.WhatsApp.VerifyToken,
			AppSecret:        cfg.WhatsApp.AppSecret,
			RequireSignature: cfg.WhatsApp.RequireSignature,
		}, lo),
		Messenger: messenger,
		AI:        generator,
		WSHub:     wsHub,
		Events:    handlers.NewEventDispatcher(cfg.Events, lo),
		Allow:     phone.NewAllowList(cfg.Chat.AuthorizedNumbers, cfg.Chat.AllowAll),
		Limiter:   ratelimit.NewPerMinute(cfg.Chat.RateLimitPerMinute),
	}
	if cfg.Auth.Enabled {
		app.Auth = auth.NewService(auth.Config{
			JWTSecret:      cfg.Auth.JWTSecret,
			TokenExpiry:    time.Duration(cfg.Auth.TokenExpiryHours) * time.Hour,
			BaseURL:        cfg.Auth.BaseURL,
			CodeTTL:        time.Duration(cfg.Auth.OTPTTL) * time.Second,
			ResendInterval: time.Duration(cfg.Auth.ResendInterval) * time.Second,
			MaxAttempts:    cfg.Auth.MaxAttempts,
			AdminNumbers:   phone.NewAllowList(cfg.Admin.PhoneNumbers, false),
		}, store, sessions, messenger, lo)
		lo.Info("OTP sign-up enabled", "base_url", cfg.Auth.BaseURL)
	}
	if cfg.Chat.AllowAll {
		lo.Warn("All phone numbers are authorized")
	} else {
		lo.Info("Authorized numbers loaded", "count", app.Allow.Len())
	}

	if *withWorkers {
		w := worker.New(chats, store, cfg.Chat.RetentionDays, time.Duration(cfg.Worker.PruneInterval)*time.Minute, lo)
		go func() {
			if err := w.Run(ctx); err != nil {
				lo.Error("Retention worker error", "error", err)
			}
		}()
	}

	// Initialize Fastglue
	g := fastglue.NewGlue()

	// Setup middleware
	g.Before(middleware.RequestLogger(lo))
	g.Before(middleware.CORS())
	g.Router.PanicHandler = middleware.PanicHandler(lo)

	// Setup routes
	setupRoutes(g, app, lo, cfg.Server.BasePath)

	// Create server
	server := &fasthttp.Server{
		Handler:      g.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		Name:         "WhatsApp-AI",
	}

	// Start server in goroutine
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		lo.Info("Server listening", "address", addr, "storage", cfg.Storage.Backend, "ai_provider", cfg.AI.Provider)
		if err := server.ListenAndServe(addr); err != nil {
			lo.Fatal("Server failed", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	lo.Info("Shutting down server...", "signal", sig.String())
	cancel()
	if err := server.Shutdown(); err != nil {
		lo.Error("Server shutdown error", "error", err)
	}
	app.Wait()
	wsHub.Stop()
	if err := store.Close(); err != nil {
		lo.Error("Storage close error", "error", err)
	}
	lo.Info("Server stopped")
}

// loadSecrets fills empty credentials from SSM Parameter Store.
func loadSecrets(ctx context.Context, cfg *config.Config, lo logf.Logger) error {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Secrets.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Secrets.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	client, err := secrets.New(ssm.NewFromConfig(awsCfg))
	if err != nil {
		return err
	}
	n, err := secrets.Resolve(ctx, cfg, client, lo)
	if err != nil {
		return err
	}
	lo.Info("Loaded secrets from SSM", "prefix", cfg.Secrets.SSMPrefix, "count", n)
	return nil
}

// publicPaths skip authentication entirely.
var publicPaths = map[string]bool{
	"/health":          true,
	"/ready":           true,
	"/api/webhook":     true,
	"/api/auth/verify": true,
	"/ws":              true,
}

func setupRoutes(g *fastglue.Fastglue, app *handlers.App, lo logf.Logger, basePath string) {
	// Health check
	g.GET("/health", app.HealthCheck)
	g.GET("/ready", app.ReadyCheck)

	// Webhook routes (public - for Meta)
	g.GET("/api/webhook", app.WebhookVerify)
	g.POST("/api/webhook", app.WebhookHandler)

	// OTP link target (public)
	g.GET("/api/auth/verify", app.VerifyOTP)

	// WebSocket route (auth handled in handler via query param)
	g.GET("/ws", app.WebSocketHandler)

	// Every other /api route needs an admin JWT or API key
	adminOnly := middleware.Chain(
		middleware.Auth(app.Config.Auth.JWTSecret, app.Config.Admin.APIKeyHashes),
		middleware.RequireRole(middleware.RoleAdmin),
	)
	g.Before(func(r *fastglue.Request) *fastglue.Request {
		path := string(r.RequestCtx.Path())
		if publicPaths[path] || string(r.RequestCtx.Method()) == fasthttp.MethodOptions {
			return r
		}
		if strings.HasPrefix(path, "/api/") {
			return adminOnly(r)
		}
		return r
	})

	// Admin
	g.POST("/api/admin/send", app.AdminSend)
	g.GET("/api/admin/conversations", app.AdminConversations)
	g.GET("/api/admin/stats/{phone}", app.AdminStats)
	g.GET("/api/admin/history/{phone}", app.AdminHistory)
	g.DELETE("/api/admin/history/{phone}", app.AdminDeleteHistory)
	g.POST("/api/admin/history/{phone}/prune", app.AdminPruneHistory)

	// Serve embedded dashboard
	if frontend.IsEmbedded() {
		lo.Info("Serving embedded dashboard", "base_path", basePath)
		frontendHandler := frontend.Handler(basePath)
		serve := func(r *fastglue.Request) error {
			frontendHandler(r.RequestCtx)
			return nil
		}
		g.GET("/", serve)
		g.GET("/admin", serve)
		g.GET("/{path:*}", serve)
	} else {
		lo.Info("Dashboard not embedded, API-only mode")
	}
}

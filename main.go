package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	waLog "go.mau.fi/whatsmeow/util/log"
	"golang.org/x/time/rate"

	"zapbridge/config"
	"zapbridge/database"
	"zapbridge/internal/handler"
	"zapbridge/internal/middleware"
	"zapbridge/internal/model"
	"zapbridge/internal/service"
	"zapbridge/internal/worker"
	"zapbridge/internal/ws"
)

func main() {
	_ = godotenv.Load()
	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.Server.JWTSecret == "" {
		log.Fatal().Msg("ZB_JWT_SECRET must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appDB, err := database.ConnectApp(cfg.Database.AppURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect app DB")
	}
	defer appDB.Close()

	waLogger := waLog.Stdout("whatsmeow", "WARN", false)
	container, err := database.NewWhatsmeowContainer(ctx, cfg.Database.WhatsmeowURL, waLogger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open whatsmeow credential store")
	}

	store := model.NewStore(appDB)

	hub := ws.NewHub()
	go hub.Run()

	relayCtx, stopRelay := context.WithCancel(context.Background())
	relay := service.NewRelay(store, cfg.Relay.QueueSize)
	relay.Start(relayCtx)

	manager := service.NewManager(service.Deps{
		WhatsApp:  cfg.WhatsApp,
		Policy:    cfg.Policy,
		Tenants:   store,
		Relay:     relay,
		Catalog:   store,
		Hub:       hub,
		Container: container,
		WALogger:  waLogger,
	})

	if cfg.WhatsApp.AutoConnect {
		go manager.ConnectAll(ctx)
	}

	if cfg.Worker.Enabled {
		outbox := worker.NewOutboxWorker(store, manager, cfg.Worker.Interval, cfg.Worker.BatchSize)
		go outbox.Run(ctx)
	}

	e := newServer(cfg, manager, store, hub)

	go func() {
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()
	log.Info().Str("port", cfg.Server.Port).Msg("zapbridge started")

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	stopRelay()
	relay.Wait()
	log.Info().Msg("bye")
}

func newServer(cfg *config.Config, manager *service.Manager, store *model.Store, hub *ws.Hub) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.Server.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
	}))
	e.Use(echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(cfg.Server.RateLimit),
			Burst:     cfg.Server.RateBurst,
			ExpiresIn: time.Duration(cfg.Server.RateWindowMin) * time.Minute,
		}),
	}))

	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		msg := "Internal server error"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if s, ok := he.Message.(string); ok {
				msg = s
			}
		}
		if code >= http.StatusInternalServerError {
			log.Error().Err(err).Str("path", c.Path()).Msg("unhandled error")
		}
		_ = handler.ErrorResponse(c, code, msg, "INTERNAL_ERROR", "")
	}

	sessions := handler.NewSessionHandler(manager)
	messages := handler.NewMessageHandler(store)
	webhooks := handler.NewWebhookHandler(store, cfg.Webhook.Secrets)
	sockets := handler.NewWebSocketHandler(hub)

	e.GET("/health", func(c echo.Context) error {
		return handler.SuccessResponse(c, http.StatusOK, "OK", map[string]string{"status": "healthy"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Gateways authenticate with per-provider HMAC signatures, not JWTs.
	e.POST("/webhooks/payment/:provider", webhooks.Payment)

	api := e.Group("", middleware.JWTAuth(cfg.Server.JWTSecret))
	api.GET("/ws", sockets.Serve)

	tenant := api.Group("", middleware.RequireTenantAccess())
	// No :tenantId param here, so only admin tokens pass the access check.
	tenant.GET("/sessions", sessions.List)
	tenant.POST("/connect/:tenantId", sessions.Connect)
	tenant.GET("/status/:tenantId", sessions.Status)
	tenant.GET("/qr/:tenantId", sessions.QR)
	tenant.POST("/send/:tenantId", sessions.Send)
	tenant.POST("/disconnect/:tenantId", sessions.Disconnect)
	tenant.GET("/messages/:tenantId", messages.List)

	return e
}

func setupLogging() {
	level, err := zerolog.ParseLevel(os.Getenv("ZB_LOG_LEVEL"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	if os.Getenv("ZB_LOG_FORMAT") == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

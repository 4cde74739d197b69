package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	accountsservice "github.com/copilot-platforms/xero-integration/domains/accounts/be/service"
	connectionshandler "github.com/copilot-platforms/xero-integration/domains/connections/be/handler"
	connectionsservice "github.com/copilot-platforms/xero-integration/domains/connections/be/service"
	contactsservice "github.com/copilot-platforms/xero-integration/domains/contacts/be/service"
	failedsyncshandler "github.com/copilot-platforms/xero-integration/domains/failedsyncs/be/handler"
	failedsyncsservice "github.com/copilot-platforms/xero-integration/domains/failedsyncs/be/service"
	invoicesservice "github.com/copilot-platforms/xero-integration/domains/invoices/be/service"
	itemshandler "github.com/copilot-platforms/xero-integration/domains/items/be/handler"
	itemsservice "github.com/copilot-platforms/xero-integration/domains/items/be/service"
	paymentsservice "github.com/copilot-platforms/xero-integration/domains/payments/be/service"
	settingshandler "github.com/copilot-platforms/xero-integration/domains/settings/be/handler"
	settingsservice "github.com/copilot-platforms/xero-integration/domains/settings/be/service"
	synclogshandler "github.com/copilot-platforms/xero-integration/domains/synclogs/be/handler"
	synclogsservice "github.com/copilot-platforms/xero-integration/domains/synclogs/be/service"
	taxratesservice "github.com/copilot-platforms/xero-integration/domains/taxrates/be/service"
	webhookhandler "github.com/copilot-platforms/xero-integration/domains/webhook/be/handler"
	webhookservice "github.com/copilot-platforms/xero-integration/domains/webhook/be/service"
	"github.com/copilot-platforms/xero-integration/gateway/copilot"
	"github.com/copilot-platforms/xero-integration/gateway/xero"
	platformlogging "github.com/copilot-platforms/xero-integration/platform/go/logging"
	"github.com/copilot-platforms/xero-integration/platform/go/persistence"
	"github.com/copilot-platforms/xero-integration/platform/go/synctoken"
)

type config struct {
	Port             string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout   time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL      string        `env:"DATABASE_URL,required"`
	CopilotAPIKey    string        `env:"COPILOT_API_KEY,required"`
	CopilotAPIURL    string        `env:"COPILOT_API_URL"`
	XeroClientID     string        `env:"XERO_CLIENT_ID,required"`
	XeroClientSecret string        `env:"XERO_CLIENT_SECRET,required"`
	CronSecret       string        `env:"CRON_SECRET,required"`
	EnableDeleteSync bool          `env:"FLAG_ENABLE_DELETE_SYNC" envDefault:"false"`
}

func main() {
	ctx := context.Background()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "sync-api",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	if err := persistence.BootstrapSchema(ctx, pool); err != nil {
		logger.Fatal("apply schema", zap.Error(err))
	}

	connectionStore, err := persistence.NewConnectionStore(pool)
	if err != nil {
		logger.Fatal("init connection store", zap.Error(err))
	}
	settingsStore, err := persistence.NewSettingsStore(pool)
	if err != nil {
		logger.Fatal("init settings store", zap.Error(err))
	}
	syncLogStore, err := persistence.NewSyncLogStore(pool)
	if err != nil {
		logger.Fatal("init sync log store", zap.Error(err))
	}
	contactStore, err := persistence.NewSyncedContactStore(pool)
	if err != nil {
		logger.Fatal("init synced contact store", zap.Error(err))
	}
	invoiceStore, err := persistence.NewSyncedInvoiceStore(pool)
	if err != nil {
		logger.Fatal("init synced invoice store", zap.Error(err))
	}
	itemStore, err := persistence.NewSyncedItemStore(pool)
	if err != nil {
		logger.Fatal("init synced item store", zap.Error(err))
	}
	paymentStore, err := persistence.NewSyncedPaymentStore(pool)
	if err != nil {
		logger.Fatal("init synced payment store", zap.Error(err))
	}
	failedSyncStore, err := persistence.NewFailedSyncStore(pool)
	if err != nil {
		logger.Fatal("init failed sync store", zap.Error(err))
	}
	syncDB := persistence.NewSyncDB(pool)

	tokenCodec, err := synctoken.NewCodec(cfg.CopilotAPIKey)
	if err != nil {
		logger.Fatal("init token codec", zap.Error(err))
	}

	xeroClient, err := xero.NewClient(xero.Config{
		ClientID:     cfg.XeroClientID,
		ClientSecret: cfg.XeroClientSecret,
	})
	if err != nil {
		logger.Fatal("init xero client", zap.Error(err))
	}
	copilotClient, err := copilot.NewClient(copilot.Config{
		APIKey:  cfg.CopilotAPIKey,
		BaseURL: cfg.CopilotAPIURL,
	})
	if err != nil {
		logger.Fatal("init copilot client", zap.Error(err))
	}

	settingsService := settingsservice.New(settingsStore)
	syncLogService := synclogsservice.New(syncLogStore)
	taxRateService := taxratesservice.New(xeroClient)
	accountService := accountsservice.New(xeroClient)
	contactService := contactsservice.New(xeroClient, copilotClient, settingsService, contactStore, syncLogService)
	itemService := itemsservice.New(xeroClient, copilotClient, itemStore, syncLogService)
	invoiceService := invoicesservice.New(
		invoicesservice.Config{DeleteSyncEnabled: cfg.EnableDeleteSync},
		xeroClient,
		copilotClient,
		contactService,
		taxRateService,
		itemService,
		settingsService,
		invoiceStore,
		paymentStore,
		syncLogService,
		syncDB,
	)
	paymentService := paymentsservice.New(xeroClient, invoiceService, accountService, paymentStore, syncLogService)
	connectionService := connectionsservice.New(tokenCodec, xeroClient, connectionStore)

	dispatcher := webhookservice.NewDispatcher(
		invoiceService, itemService, paymentService, settingsService, syncLogService, failedSyncStore)
	retryService := failedsyncsservice.New(failedSyncStore, tokenCodec, connectionService, dispatcher)

	webhookHTTPHandler := webhookhandler.New(connectionService, settingsService, dispatcher, logger)
	settingsHTTPHandler := settingshandler.New(connectionService, settingsService, invoiceService, logger)
	syncLogsHTTPHandler := synclogshandler.New(connectionService, syncLogService, logger)
	connectionsHTTPHandler := connectionshandler.New(tokenCodec, connectionService, logger)
	itemsHTTPHandler := itemshandler.New(connectionService, itemService, logger)
	retryHTTPHandler := failedsyncshandler.New(retryService, cfg.CronSecret, logger)

	rootRouter := chi.NewRouter()

	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
	)
	rootRouter.Use(platformlogging.RequestLogger(logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Handle("/metrics", promhttp.Handler())

	webhookHTTPHandler.Routes(rootRouter)
	settingsHTTPHandler.Routes(rootRouter)
	syncLogsHTTPHandler.Routes(rootRouter)
	connectionsHTTPHandler.Routes(rootRouter)
	itemsHTTPHandler.Routes(rootRouter)
	retryHTTPHandler.Routes(rootRouter)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting sync api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

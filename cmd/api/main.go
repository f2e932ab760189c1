package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"coursecart/internal/config"
	"coursecart/internal/db"
	"coursecart/internal/httpserver"
	"coursecart/internal/logging"
	"coursecart/internal/metrics"
	"coursecart/internal/outbox"
	"coursecart/internal/payment"
	"coursecart/internal/payment/midtrans"
	callbackrepo "coursecart/internal/repository/callback"
	cartrepo "coursecart/internal/repository/cart"
	courserepo "coursecart/internal/repository/course"
	enrollmentrepo "coursecart/internal/repository/enrollment"
	outboxrepo "coursecart/internal/repository/outbox"
	sessionrepo "coursecart/internal/repository/session"
	tokenrepo "coursecart/internal/repository/token"
	transactionrepo "coursecart/internal/repository/transaction"
	"coursecart/internal/repository/uow"
	cartsvc "coursecart/internal/service/cart"
	checkoutsvc "coursecart/internal/service/checkout"
	ingresssvc "coursecart/internal/service/ingress"
	settlementsvc "coursecart/internal/service/settlement"
	txsvc "coursecart/internal/service/transaction"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	logger := logging.Must("coursecart-api", cfg.Env, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	dbpool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		logger.Fatal("connect to db", zap.Error(err))
	}
	defer dbpool.Close()

	m := metrics.New()

	// Price snapshots read the database; only the public catalog is cached.
	courses := courserepo.NewPostgres(dbpool, logger)
	catalog, closeCache, err := courserepo.WithCache(courses, cfg.RedisURL, cfg.CatalogCacheTTL, logger)
	if err != nil {
		logger.Fatal("catalog cache", zap.Error(err))
	}
	defer closeCache()
	if cfg.RedisURL != "" {
		logger.Info("catalog cache enabled", zap.Duration("ttl", cfg.CatalogCacheTTL))
	}

	carts := cartrepo.NewPostgres(dbpool)
	enrollments := enrollmentrepo.NewPostgres(dbpool)
	transactions := transactionrepo.NewPostgres(dbpool)
	sessions := sessionrepo.NewPostgres(dbpool)

	if cfg.MidtransServerKey == "" {
		logger.Warn("MIDTRANS_SERVER_KEY is empty; every webhook will be rejected")
	}
	gateway := payment.NewGuarded(
		midtrans.New(midtrans.Config{ServerKey: cfg.MidtransServerKey, IsProduction: cfg.MidtransIsProduction}, sessions, logger),
		payment.GuardOptions{Timeout: cfg.GatewayTimeout, Logger: logger},
	)

	returnURL := cfg.PublicBaseURL + "/checkout/return"
	processor := settlementsvc.New(transactions, uow.NewPostgres(dbpool),
		settlementsvc.Config{Currency: cfg.Currency, OutboxTopic: cfg.OutboxTopic}, m, logger)

	srv, err := httpserver.New(cfg.HTTPAddr, logger, httpserver.Deps{
		Carts: cartsvc.New(carts, courses, enrollments, logger),
		Checkout: checkoutsvc.New(carts, courses, sessions, gateway, checkoutsvc.Config{
			Currency:   cfg.Currency,
			SuccessURL: returnURL,
			CancelURL:  returnURL,
		}, m, logger),
		Ingress:     ingresssvc.New(gateway, processor, callbackrepo.NewPostgres(dbpool), "midtrans", logger),
		History:     txsvc.New(transactions, enrollments),
		Catalog:     catalog,
		Tokens:      tokenrepo.NewPostgres(dbpool),
		Ready:       dbpool,
		Metrics:     m,
		Currency:    cfg.Currency,
		CORSOrigins: cfg.CORSOrigins,
	})
	if err != nil {
		logger.Fatal("init server", zap.Error(err))
	}

	relayCtx, stopRelay := context.WithCancel(ctx)
	defer stopRelay()
	if len(cfg.KafkaBrokers) > 0 {
		writer := outbox.NewKafkaWriter(cfg.KafkaBrokers)
		defer writer.Close()
		relay := outbox.NewRelay(outboxrepo.NewPostgres(dbpool), writer, cfg.OutboxInterval, m, logger)
		go relay.Run(relayCtx)
		logger.Info("outbox relay started", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.OutboxTopic))
	} else {
		logger.Info("KAFKA_BROKERS not set; purchase events stay in the outbox")
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting http server", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stopCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		logger.Error("server error", zap.Error(err))
	}

	stopRelay()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	} else {
		logger.Info("server stopped")
	}
}

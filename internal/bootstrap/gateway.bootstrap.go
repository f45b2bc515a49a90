package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/krobus00/broker-gateway/internal/config"
	"github.com/krobus00/broker-gateway/internal/constant"
	"github.com/krobus00/broker-gateway/internal/entity"
	httpHandler "github.com/krobus00/broker-gateway/internal/handler/brokerage/http"
	wsHandler "github.com/krobus00/broker-gateway/internal/handler/brokerage/ws"
	"github.com/krobus00/broker-gateway/internal/infrastructure"
	"github.com/krobus00/broker-gateway/internal/repository"
	"github.com/krobus00/broker-gateway/internal/service/brokerage"
	"github.com/krobus00/broker-gateway/internal/service/feecalc"
	"github.com/krobus00/broker-gateway/internal/service/notifier"
	"github.com/krobus00/broker-gateway/internal/service/ordervalidator"
	"github.com/krobus00/broker-gateway/internal/service/pricestep"
	"github.com/krobus00/broker-gateway/internal/service/venue"
	"github.com/krobus00/broker-gateway/internal/store"
	"github.com/krobus00/broker-gateway/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func StartGateway(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cleanups := map[string]operation{}

	catalog, referenceDB, err := loadCatalog(ctx)
	util.ContinueOrFatal(err)
	if referenceDB != nil {
		cleanups["reference database"] = func(ctx context.Context) error {
			return referenceDB.Close()
		}
	}

	venueClient, err := venue.NewClient(config.Env.Venue, catalog)
	util.ContinueOrFatal(err)

	steps, err := priceStepTable(config.Env.Trading.PriceSteps)
	util.ContinueOrFatal(err)

	location, err := config.Env.Trading.Location()
	util.ContinueOrFatal(err)

	guard, closeGuard, err := submissionGuard(ctx)
	util.ContinueOrFatal(err)
	cleanups["submission guard"] = closeGuard

	nc, publisher, err := orderEventPublisher(ctx)
	util.ContinueOrFatal(err)
	if nc != nil {
		cleanups["nats connection"] = func(ctx context.Context) error {
			return infrastructure.CloseJetstream(nc)
		}
	}

	feeRates := make(map[entity.InstrumentClass]decimal.Decimal, len(config.Env.Trading.FeeRates))
	for class, rate := range config.Env.Trading.FeeRates {
		feeRates[entity.InstrumentClass(class)] = rate
	}

	manager := brokerage.NewManager(ctx, brokerage.Dependencies{
		Venue:   venueClient,
		Catalog: catalog,
		Validator: ordervalidator.New(ordervalidator.Config{
			Steps:            steps,
			Location:         location,
			ExpiryWindowDays: config.Env.Trading.ExpiryWindowDays,
		}),
		Fees:      feecalc.NewFeeSchedule(feeRates, config.Env.Trading.DefaultFeeRate),
		Formatter: feecalc.NewFormatter(config.Env.Trading.CurrencyDigits),
		Guard:     guard,
		Publisher: publisher,
	}, brokerage.Config{
		MarketInterval:     config.Env.Sync.OrderBookInterval,
		AccountInterval:    config.Env.Sync.AccountInterval,
		OrderPollInterval:  config.Env.Sync.OrderPollInterval,
		MaxActivePolls:     config.Env.Sync.MaxActivePolls,
		OrderBookDepth:     config.Env.Sync.OrderBookDepth,
		DefaultCurrency:    config.Env.Trading.DefaultCurrency,
		SubmissionGuardTTL: config.Env.SubmissionGuardTTL,
		IdleTimeout:        config.Env.Session.IdleTimeout,
	})
	go manager.Run(ctx)
	cleanups["sessions"] = func(ctx context.Context) error {
		manager.Close()
		return nil
	}

	grpcPort := fmt.Sprintf(":%s", config.Env.Port["gateway_grpc"])
	grpcServer, err := infrastructure.NewGRPCServer(grpcPort, config.Env.Env == constant.DevelopmentEnvironment)
	util.ContinueOrFatal(err)

	go func() {
		if err := grpcServer.Start(); err != nil {
			logrus.Error(err)
		}
	}()
	go grpcServer.WatchHealth(ctx, 0, venueClient.Ping)
	logrus.Info(fmt.Sprintf("grpc server started on %s", grpcPort))
	cleanups["grpc"] = func(ctx context.Context) error {
		return grpcServer.Shutdown(ctx)
	}

	router := infrastructure.NewRouter(
		venueClient.Ping,
		httpHandler.NewBrokerageHTTPHandler(manager, location),
		wsHandler.NewStreamHandler(manager, config.Env.Session.StreamAllowedOrigins),
	)

	httpPort := fmt.Sprintf(":%s", config.Env.Port["gateway_http"])
	httpServer := infrastructure.NewHTTPServerWithConfig(infrastructure.HTTPServerConfig{
		Addr:            httpPort,
		ShutdownTimeout: config.Env.GracefulShutdownTimeout,
	}, router)

	go func() {
		err := httpServer.Start()
		if err != nil {
			logrus.Error(err)
		}
	}()
	logrus.Info(fmt.Sprintf("http server started on %s", httpPort))
	cleanups["http"] = func(ctx context.Context) error {
		cancel()
		return httpServer.Shutdown(ctx)
	}

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, cleanups)

	<-wait
}

// loadCatalog reads the instrument catalogue when a reference database is
// configured. Without one symbols are only canonicalised by suffix.
func loadCatalog(ctx context.Context) (entity.Catalog, *sqlx.DB, error) {
	dbConfig, ok := config.Env.Database[constant.DatabaseReference]
	if !ok || strings.TrimSpace(dbConfig.DSN) == "" {
		logrus.Info("no reference database configured, using symbol suffix fallback")
		return entity.Catalog{}, nil, nil
	}

	db, err := infrastructure.NewPostgresConnection(ctx, dbConfig)
	if err != nil {
		return nil, nil, err
	}
	infrastructure.StartPostgresHealthCheck(ctx, db, dbConfig.PingInterval)

	catalog, err := repository.NewInstrumentRepository(db).GetAll(ctx)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	logrus.WithField("instruments", len(catalog)).Info("instrument catalogue loaded")
	return catalog, db, nil
}

func priceStepTable(tiers []config.PriceStepConfig) (*pricestep.Table, error) {
	if len(tiers) == 0 {
		return pricestep.Default(), nil
	}

	converted := make([]pricestep.Tier, 0, len(tiers))
	for _, tier := range tiers {
		converted = append(converted, pricestep.Tier{From: tier.From, Step: tier.Step})
	}
	return pricestep.NewTable(converted)
}

func submissionGuard(ctx context.Context) (store.SubmissionGuard, operation, error) {
	redisConfig, ok := config.Env.Redis[constant.RedisSubmission]
	if !ok || strings.TrimSpace(redisConfig.CacheDSN) == "" {
		logrus.Info("no redis configured, submission guard is in memory")
		return store.NewMemorySubmissionGuard(), func(context.Context) error { return nil }, nil
	}

	guard, err := store.NewRedisSubmissionGuard(redisConfig.CacheDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := guard.Ping(ctx); err != nil {
		_ = guard.Close()
		return nil, nil, err
	}

	return guard, func(context.Context) error { return guard.Close() }, nil
}

func orderEventPublisher(ctx context.Context) (*nats.Conn, entity.EventPublisher, error) {
	if strings.TrimSpace(config.Env.NatsJetstream.URL) == "" {
		logrus.Info("no nats jetstream configured, order events are not published")
		return nil, notifier.Noop{}, nil
	}

	nc, js, err := infrastructure.NewJetstream(config.Env.NatsJetstream)
	if err != nil {
		return nil, nil, err
	}

	jetstreamNotifier := notifier.NewJetstreamNotifier(js, config.Env.NatsJetstream.PublishTimeout)

	publishers := make([]entity.Publisher, 0)
	publishers = append(publishers, jetstreamNotifier)
	for _, v := range publishers {
		if err := v.JetstreamEventInit(ctx); err != nil {
			_ = infrastructure.CloseJetstream(nc)
			return nil, nil, err
		}
	}

	return nc, jetstreamNotifier, nil
}

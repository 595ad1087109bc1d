package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/learnsphere/billing/modules/billing"
	"github.com/learnsphere/billing/pkg/config"
	"github.com/learnsphere/billing/pkg/httpserver"
	"github.com/learnsphere/billing/pkg/logger"
	"github.com/learnsphere/billing/pkg/mongodb"
	"github.com/learnsphere/billing/pkg/notifier"
	"github.com/learnsphere/billing/pkg/payment"
	"github.com/learnsphere/billing/pkg/payout"
	"github.com/learnsphere/billing/pkg/redisconn"
	"github.com/learnsphere/billing/pkg/scheduler"
	"github.com/learnsphere/billing/pkg/subscription"
)

type appConfig struct {
	Environment   string `env:"ENVIRONMENT" envDefault:"development"`
	PlansFile     string `env:"PLANS_FILE" envDefault:"plans.yaml"`
	EmailProvider string `env:"EMAIL_PROVIDER" envDefault:"log"`
}

func main() {
	var appCfg appConfig
	config.MustLoad(&appCfg)

	logOpts := []logger.Option{logger.WithService("billingd", appCfg.Environment)}
	if appCfg.Environment == "development" {
		logOpts = append(logOpts, logger.WithDevelopment())
	}
	log := logger.New(logOpts...)
	logger.SetAsDefault(log)

	if err := run(log, appCfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("billingd exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("billingd stopped")
}

func run(log *slog.Logger, appCfg appConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		mongoCfg   mongodb.Config
		redisCfg   redisconn.Config
		stripeCfg  payment.StripeConfig
		serviceCfg subscription.ServiceConfig
		payoutCfg  payout.Config
		httpCfg    httpserver.Config
	)
	config.MustLoad(&mongoCfg)
	config.MustLoad(&redisCfg)
	config.MustLoad(&stripeCfg)
	config.MustLoad(&serviceCfg)
	config.MustLoad(&payoutCfg)
	config.MustLoad(&httpCfg)

	db, err := mongodb.Connect(ctx, mongoCfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Client().Disconnect(context.Background()) }()
	log.Info("connected to mongodb", slog.String("database", mongoCfg.Database))

	redisClient, err := redisconn.Connect(ctx, redisCfg)
	if err != nil {
		return err
	}
	defer func() { _ = redisClient.Close() }()
	log.Info("connected to redis")

	store, err := subscription.NewMongoStore(ctx, db)
	if err != nil {
		return err
	}
	dedup := subscription.NewRedisDedup(redisClient, subscription.DefaultDedupTTL)

	processor, err := payment.NewStripeProcessor(stripeCfg, log)
	if err != nil {
		return err
	}

	catalog, err := subscription.NewYAMLCatalogSource(appCfg.PlansFile).Load(ctx)
	if err != nil {
		return err
	}
	log.Info("loaded plan catalog", slog.String("file", appCfg.PlansFile))

	var mailer notifier.Notifier
	if appCfg.EmailProvider == "postmark" {
		var mailCfg notifier.Config
		config.MustLoad(&mailCfg)
		mailer, err = notifier.NewPostmarkNotifier(mailCfg)
		if err != nil {
			return err
		}
	} else {
		mailer = notifier.NewLogNotifier(log)
	}
	dispatcher := notifier.NewDispatcher(mailer, log, 15*time.Second)

	contacts := newMongoContactSource(db)

	subsService := subscription.NewService(store, processor, catalog, contacts, dispatcher, serviceCfg, log)
	webhooks := subscription.NewWebhookProcessor(store, dedup, processor, catalog, contacts, dispatcher, log)
	sweeper := subscription.NewSweeper(store, catalog, contacts, dispatcher, log)
	payoutService := payout.NewService(processor, payoutCfg, log)

	sched := scheduler.New(scheduler.WithLogger(log))
	if err := sched.AddTask("expiry-sweep", scheduler.Hourly(), sweeper.Sweep); err != nil {
		return err
	}
	if err := sched.AddTask("renewal-reminder", scheduler.DailyAt(9, 0), sweeper.RemindRenewals); err != nil {
		return err
	}
	if err := sched.AddTask("payout-run", scheduler.WeeklyOn(time.Monday, 10, 0), func(ctx context.Context) error {
		_, err := payoutService.RunScheduled(ctx)
		if errors.Is(err, payout.ErrNothingToPayOut) {
			return nil
		}
		return err
	}); err != nil {
		return err
	}

	module := billing.NewModule(subsService, webhooks, payoutService, log)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Get("/health", httpserver.HealthCheckHandler(log))
	router.Get("/ready", httpserver.HealthCheckHandler(log,
		mongodb.Healthcheck(db),
		redisconn.Healthcheck(redisClient)))
	module.Mount(router, "/billing")

	server := httpserver.New(httpCfg, log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx, router)
	})
	g.Go(func() error {
		err := sched.Start(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	return g.Wait()
}

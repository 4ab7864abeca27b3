package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/app"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/config"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/events"
	kafkax "github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/kafka"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/observability"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/postgres"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/redisx"
)

// remittance consumes courier COD remittance reports and records them for
// reconciliation.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := observability.InitLogger(cfg.ServiceName+"-remittance", cfg.LogLevel, cfg.LogPretty)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB; remittances must survive restarts
	if cfg.MigrateOnStart {
		if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
			log.Fatal().Err(err).Msg("migrate")
		}
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db")
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.Fatal().Err(err).Msg("redis")
	}

	// Producer untuk event CODMismatch dan StockLow
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start()

	a := app.New(app.PostgresStores(db), prod, redisx.NewCache(rdb, cfg.TrackingCacheTTL), log, cfg.ServiceName+"-remittance")
	intake := a.RemittanceIntake(redisx.NewDedup(rdb, "remittance"))

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.RemittanceGroup, events.TopicCODRemittance, cfg.RemittanceWorkers, log)
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info().Str("group", cfg.RemittanceGroup).Str("topic", events.TopicCODRemittance).Int("workers", cfg.RemittanceWorkers).Msg("remittance consumer started")
		if err := cons.Start(ctx, intake.HandleRemittance); err != nil {
			log.Error().Err(err).Msg("consumer exit")
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down consumer")
	cancel()
	<-done
	prod.Close()
}

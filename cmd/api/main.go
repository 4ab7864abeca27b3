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
	"github.com/rs/zerolog"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/app"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/config"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/events"
	kafkax "github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/kafka"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/observability"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/orders"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/postgres"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := observability.InitLogger(cfg.ServiceName, cfg.LogLevel, cfg.LogPretty)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stores
	stores := app.MemoryStores()
	if cfg.StoreDriver == config.DriverPostgres {
		if cfg.MigrateOnStart {
			if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
				log.Fatal().Err(err).Msg("migrate")
			}
		}
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("db connect")
		}
		defer db.Close()
		stores = app.PostgresStores(db)
	}
	log.Info().Str("driver", cfg.StoreDriver).Msg("stores ready")

	// Redis: cache pelacakan, opsional
	var cache orders.Cache
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, tracking cache disabled")
	} else {
		cache = redisx.NewCache(rdb, cfg.TrackingCacheTTL)
	}

	// Kafka producer
	var pub events.Publisher = events.Nop{}
	var prod *kafkax.Producer
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
		prod.Start()
		pub = prod
	}

	a := app.New(stores, pub, cache, log, cfg.ServiceName)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: a.Router(cfg.AgedShipmentDays), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	shutdown(log, srv, prod)
}

func shutdown(log zerolog.Logger, srv *http.Server, prod *kafkax.Producer) {
	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if prod != nil {
		prod.Close() // tutup inbox -> flush & close writer
	}
}

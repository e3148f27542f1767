package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/rmoralesp/tienda-fulfillment/internal/carrier"
	"github.com/rmoralesp/tienda-fulfillment/internal/config"
	"github.com/rmoralesp/tienda-fulfillment/internal/httpx"
	"github.com/rmoralesp/tienda-fulfillment/internal/inventory"
	kafkax "github.com/rmoralesp/tienda-fulfillment/internal/kafka"
	"github.com/rmoralesp/tienda-fulfillment/internal/logging"
	"github.com/rmoralesp/tienda-fulfillment/internal/orders"
	"github.com/rmoralesp/tienda-fulfillment/internal/postgres"
	"github.com/rmoralesp/tienda-fulfillment/internal/redisx"
	"github.com/rmoralesp/tienda-fulfillment/internal/stockmirror"
	"github.com/rmoralesp/tienda-fulfillment/internal/webhook"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("config")
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format).With().
		Str("service", cfg.ServiceName+"-api").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicPaymentWebhooks, 1024)
	prod.Start(ctx)

	repo := &orders.Repo{DB: db}

	var mirror *stockmirror.Mirror
	if cfg.Mirror.Enabled {
		source := stockmirror.NewHTTPSource(cfg.Mirror.BaseURL, cfg.Mirror.Token)
		mirror = stockmirror.New(rdb, source, repo, repo, stockmirror.Config{
			PriceTTL:      cfg.Mirror.PriceTTL,
			StockTTL:      cfg.Mirror.StockTTL,
			ChunkSize:     cfg.Mirror.ChunkSize,
			FallbackLocal: cfg.Mirror.FallbackLocal,
			Writeback:     cfg.Mirror.Writeback,
		}, log)
	}

	var quoter httpx.Quoter
	if cfg.DHL.Enabled {
		quoter = carrier.NewClient(cfg.DHL.BaseURL, cfg.DHL.Username, cfg.DHL.Password, cfg.DHL.Account, log)
	}

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Repo:   repo,
		Stock:  &inventory.Ledger{DB: db, Log: log.With().Str("component", "inventory").Logger()},
		Mirror: mirror,
		Quoter: quoter,
		Shipper: carrier.Address{
			Name:       cfg.Shipper.Name,
			Street:     cfg.Shipper.Street,
			City:       cfg.Shipper.City,
			State:      cfg.Shipper.State,
			PostalCode: cfg.Shipper.PostalCode,
			Phone:      cfg.Shipper.Phone,
			Email:      cfg.Shipper.Email,
		},
		OrderTTL: cfg.OrderTTL,
		Log:      log.With().Str("component", "orders").Logger(),
	}
	oh.Register(router)
	router.Method(http.MethodPost, "/webhooks/openpay", &webhook.Handler{
		Producer:    prod,
		ServiceName: cfg.ServiceName + "-api",
		Log:         log.With().Str("component", "webhook").Logger(),
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)
	prod.Close()
	cancel()
	prod.WaitClosed()
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/rmoralesp/tienda-fulfillment/internal/carrier"
	"github.com/rmoralesp/tienda-fulfillment/internal/config"
	"github.com/rmoralesp/tienda-fulfillment/internal/documents"
	"github.com/rmoralesp/tienda-fulfillment/internal/expiry"
	"github.com/rmoralesp/tienda-fulfillment/internal/fulfillment"
	"github.com/rmoralesp/tienda-fulfillment/internal/inventory"
	kafkax "github.com/rmoralesp/tienda-fulfillment/internal/kafka"
	"github.com/rmoralesp/tienda-fulfillment/internal/logging"
	"github.com/rmoralesp/tienda-fulfillment/internal/notify"
	"github.com/rmoralesp/tienda-fulfillment/internal/orders"
	"github.com/rmoralesp/tienda-fulfillment/internal/postgres"
	"github.com/rmoralesp/tienda-fulfillment/internal/redisx"
	"github.com/rmoralesp/tienda-fulfillment/internal/webhook"
)

// taskQueue publishes follow-up tasks; implements webhook.Enqueuer and
// notify.Requeuer.
type taskQueue struct {
	fulfillment *kafkax.Producer
	notify      *kafkax.Producer
	service     string
}

func (q *taskQueue) envelope(eventType string, orderID int64, payload any) []byte {
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      q.service,
		CorrelationID: strconv.FormatInt(orderID, 10),
	}
	ev.Payload = kafkax.MustMarshal(payload)
	return kafkax.MustMarshal(ev)
}

func (q *taskQueue) EnqueueFulfillment(orderID int64) {
	value := q.envelope(orders.EventFulfillmentRequested, orderID, orders.FulfillmentRequestedPayload{OrderID: orderID})
	q.fulfillment.Publish(orders.PartitionKey(orderID), value)
}

func (q *taskQueue) RequeueWarehouseNotify(orderID int64, attempt int) {
	value := q.envelope(orders.EventWarehouseNotify, orderID, orders.WarehouseNotifyPayload{OrderID: orderID})
	q.notify.Publish(orders.PartitionKey(orderID), value, kafkax.AttemptHeader(attempt))
}

func healthMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// noopNotifier stands in for the dispatcher when mail is disabled.
type noopNotifier struct {
	log zerolog.Logger
}

func (n noopNotifier) Dispatch(_ context.Context, orderID int64, _ int) error {
	n.log.Warn().Int64("order_id", orderID).Msg("mail integration disabled, skipping warehouse notification")
	return nil
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("config")
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format).With().
		Str("service", cfg.ServiceName + "-worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	pFulfillment := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicFulfillment, 1024)
	pFulfillment.Start(ctx)
	pNotify := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicWarehouseNotify, 1024)
	pNotify.Start(ctx)

	queue := &taskQueue{
		fulfillment: pFulfillment,
		notify:      pNotify,
		service:     cfg.ServiceName + "-worker",
	}

	repo := &orders.Repo{DB: db}
	ledger := &inventory.Ledger{DB: db, Log: log.With().Str("component", "inventory").Logger()}
	files := &documents.FileStore{Dir: cfg.DataDir}

	webhookSvc := &webhook.Service{
		Store: repo,
		Stock: ledger,
		Dedup: webhook.RedisDeduper{RDB: rdb},
		Queue: queue,
		Log:   log.With().Str("component", "webhook").Logger(),
	}

	var notifier fulfillment.Notifier
	var dispatcher *notify.Dispatcher
	if cfg.SMTP.Enabled {
		dispatcher = &notify.Dispatcher{
			Store: repo,
			Mailer: &notify.SMTPMailer{
				Host:     cfg.SMTP.Host,
				Port:     cfg.SMTP.Port,
				Username: cfg.SMTP.Username,
				Password: cfg.SMTP.Password,
				From:     cfg.SMTP.From,
			},
			Files:       files,
			Queue:       queue,
			WarehouseTo: cfg.SMTP.WarehouseTo,
			CC:          cfg.SMTP.CC,
			MaxAttempts: cfg.Worker.MaxAttempts,
			Log:         log.With().Str("component", "notify").Logger(),
		}
		notifier = dispatcher
	} else {
		notifier = noopNotifier{log: log}
	}

	var dhl fulfillment.Carrier
	if cfg.DHL.Enabled {
		dhl = carrier.NewClient(cfg.DHL.BaseURL, cfg.DHL.Username, cfg.DHL.Password, cfg.DHL.Account, log)
	}
	var messenger fulfillment.Messenger
	if cfg.WhatsApp.Enabled {
		messenger = notify.NewWhatsAppClient(cfg.WhatsApp.BaseURL, cfg.WhatsApp.Token)
	}

	schedule := fulfillment.DefaultSchedule()
	if loc, err := time.LoadLocation(cfg.Pickup.Timezone); err == nil {
		schedule.Zone = loc
	}
	schedule.PickupHour = cfg.Pickup.Hour
	schedule.PickupMinute = cfg.Pickup.Minute
	schedule.CutoffHour = cfg.Pickup.CutoffHour
	schedule.WindowMinutes = cfg.Pickup.WindowMinutes

	orch := &fulfillment.Orchestrator{
		Store:     repo,
		Carrier:   dhl,
		Files:     files,
		Docs:      &documents.PickingRenderer{Files: files},
		Notify:    notifier,
		Messenger: messenger,
		Schedule:  schedule,
		Shipper: carrier.Address{
			Name:       cfg.Shipper.Name,
			Street:     cfg.Shipper.Street,
			City:       cfg.Shipper.City,
			State:      cfg.Shipper.State,
			PostalCode: cfg.Shipper.PostalCode,
			Phone:      cfg.Shipper.Phone,
			Email:      cfg.Shipper.Email,
		},
		InternalNumber: cfg.WhatsApp.InternalNumber,
		PublicBaseURL:  cfg.PublicBaseURL,
		Log:            log.With().Str("component", "fulfillment").Logger(),
	}

	sweeper := &expiry.Sweeper{
		Store:     repo,
		Stock:     ledger,
		Interval:  cfg.Expiry.SweepInterval,
		BatchSize: cfg.Expiry.BatchSize,
		Log:       log.With().Str("component", "expiry").Logger(),
	}

	g, gctx := errgroup.WithContext(ctx)

	consume := func(topic string, h kafkax.Handler) {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.Worker.Group, topic, cfg.Worker.Workers, log)
		g.Go(func() error {
			log.Info().Str("topic", topic).Int("workers", cfg.Worker.Workers).Msg("consumer started")
			return cons.Start(gctx, h)
		})
	}

	consume(orders.TopicPaymentWebhooks, webhookTask(webhookSvc, log))
	consume(orders.TopicFulfillment, fulfillmentTask(orch, pFulfillment, cfg.Worker.MaxAttempts, cfg.Worker.Backoff, log))
	consume(orders.TopicWarehouseNotify, notifyTask(notifier, cfg.Worker.Backoff, log))

	g.Go(func() error { return sweeper.Run(gctx) })

	health := &http.Server{Addr: cfg.HealthAddr, Handler: healthMux()}
	g.Go(func() error {
		if err := health.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return health.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		log.Error().Err(err).Msg("worker exit")
	}
	log.Info().Msg("shutting down")

	pFulfillment.Close()
	pNotify.Close()
	stop()
	pFulfillment.WaitClosed()
	pNotify.WaitClosed()
}

// webhookTask decodes the raw gateway body and runs the payment processor.
// Decode failures are acked: the payload will never get better.
func webhookTask(svc *webhook.Service, log zerolog.Logger) kafkax.Handler {
	return func(ctx context.Context, m kafkago.Message) error {
		var env orders.Envelope
		if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
			log.Error().Err(err).Msg("bad webhook envelope, dropping")
			return nil
		}
		p, err := kafkax.UnwrapPayload[orders.PaymentWebhookPayload](env.Payload)
		if err != nil {
			log.Error().Err(err).Str("event_id", env.EventID).Msg("bad webhook payload, dropping")
			return nil
		}
		ev, err := webhook.Decode(p.Body)
		if err != nil {
			log.Warn().Err(err).Str("event_id", env.EventID).Msg("undecodable gateway body, dropping")
			return nil
		}
		return svc.Process(ctx, ev)
	}
}

// fulfillmentTask runs the orchestrator and re-publishes failed tasks with
// a bumped attempt header, up to maxAttempts. Redeliveries wait out a fixed
// per-attempt backoff first.
func fulfillmentTask(orch *fulfillment.Orchestrator, prod *kafkax.Producer, maxAttempts int, backoff time.Duration, log zerolog.Logger) kafkax.Handler {
	return func(ctx context.Context, m kafkago.Message) error {
		var env orders.Envelope
		if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
			log.Error().Err(err).Msg("bad fulfillment envelope, dropping")
			return nil
		}
		p, err := kafkax.UnwrapPayload[orders.FulfillmentRequestedPayload](env.Payload)
		if err != nil {
			log.Error().Err(err).Str("event_id", env.EventID).Msg("bad fulfillment payload, dropping")
			return nil
		}
		kafkax.RetryDelay(ctx, kafkax.Attempt(m), backoff)
		if err := orch.Run(ctx, p.OrderID); err != nil {
			attempt := kafkax.Attempt(m)
			if attempt+1 >= maxAttempts {
				log.Error().Err(err).Int64("order_id", p.OrderID).Int("attempt", attempt).
					Msg("fulfillment giving up after max attempts")
				return nil
			}
			log.Warn().Err(err).Int64("order_id", p.OrderID).Int("attempt", attempt).
				Msg("fulfillment incomplete, requeueing")
			prod.Publish(m.Key, m.Value, kafkax.AttemptHeader(attempt+1))
		}
		return nil
	}
}

func notifyTask(n fulfillment.Notifier, backoff time.Duration, log zerolog.Logger) kafkax.Handler {
	return func(ctx context.Context, m kafkago.Message) error {
		var env orders.Envelope
		if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
			log.Error().Err(err).Msg("bad notify envelope, dropping")
			return nil
		}
		p, err := kafkax.UnwrapPayload[orders.WarehouseNotifyPayload](env.Payload)
		if err != nil {
			log.Error().Err(err).Str("event_id", env.EventID).Msg("bad notify payload, dropping")
			return nil
		}
		kafkax.RetryDelay(ctx, kafkax.Attempt(m), backoff)
		return n.Dispatch(ctx, p.OrderID, kafkax.Attempt(m))
	}
}

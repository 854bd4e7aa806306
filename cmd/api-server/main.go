package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/eventsourced-scheduling/internal/api"
	"github.com/hackgods/eventsourced-scheduling/internal/appointment"
	"github.com/hackgods/eventsourced-scheduling/internal/broker"
	"github.com/hackgods/eventsourced-scheduling/internal/config"
	"github.com/hackgods/eventsourced-scheduling/internal/db"
	"github.com/hackgods/eventsourced-scheduling/internal/directory"
	"github.com/hackgods/eventsourced-scheduling/internal/es"
	"github.com/hackgods/eventsourced-scheduling/internal/eventstore"
	"github.com/hackgods/eventsourced-scheduling/internal/integrations"
	"github.com/hackgods/eventsourced-scheduling/internal/logger"
	redisclient "github.com/hackgods/eventsourced-scheduling/internal/redis"
	"github.com/hackgods/eventsourced-scheduling/internal/saga"
	"github.com/hackgods/eventsourced-scheduling/internal/telemetry"
	"github.com/hackgods/eventsourced-scheduling/internal/visio"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	log, err := logger.New(cfg.Env)
	if err != nil {
		panic("logger init error: " + err.Error())
	}
	defer log.Sync()

	log.Info("api-server starting up", "env", cfg.Env, "http_port", cfg.HTTPPort, "transport", cfg.EventTransport)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", "error", err)
	}
	defer pgPool.Close()
	if err := db.EnsureSchema(rootCtx, pgPool); err != nil {
		log.Fatal("schema setup error", "error", err)
	}
	log.Info("connected to Postgres")

	gdb, err := db.OpenGorm(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("gorm open error", "error", err)
	}
	apptViews := appointment.NewGormReadStore(gdb)
	if err := apptViews.Migrate(rootCtx); err != nil {
		log.Fatal("read model migration error", "error", err)
	}

	redisCtx, cancelRedis := context.WithTimeout(rootCtx, 5*time.Second)
	rdb, err := redisclient.NewRedisClient(redisCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	cancelRedis()
	if err != nil {
		log.Fatal("redis connection error", "error", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("error closing redis", "error", err)
		}
	}()
	log.Info("connected to Redis")

	publisher, closePublisher, err := newPublisher(cfg, log)
	if err != nil {
		log.Fatal("event transport error", "error", err)
	}
	defer closePublisher()

	emitter := telemetry.NewLogEmitter(log)
	store := eventstore.NewPgStore(pgPool)
	apptRepo := appointment.NewRepository(store)
	visioRepo := visio.NewRepository(store)
	visioViews := visio.NewRedisReadStore(rdb)
	apptProjector := appointment.NewProjector(apptRepo, apptViews, log)
	visioProjector := visio.NewProjector(visioRepo, visioViews, log)
	dir := directory.NewPgDirectory(pgPool)

	dispatcher := es.NewDispatcher(log)
	dispatcher.Subscribe("projection.appointment", es.Ordered, apptProjector.Handle)
	dispatcher.Subscribe("projection.visio", es.Ordered, visioProjector.Handle)

	retry := saga.DefaultRetryPolicy()
	retry.MaxTries = cfg.SagaStepRetries
	saga.Register(dispatcher, &saga.Deps{
		Notifier:     integrations.NewLogNotifier(log),
		Calendar:     integrations.NewMemoryCalendar(),
		Patients:     dir,
		Doctors:      dir,
		Appointments: apptRepo,
		Visios:       visioRepo,
		Emitter:      emitter,
		Log:          log,
		Retry:        retry,
		JoinURL:      cfg.JoinURL,
	}, redisclient.NewDeduper(rdb, cfg.SagaDedupeTTL))

	committer := es.NewCommitter(publisher, dispatcher)
	apptSvc := appointment.NewService(apptRepo, committer, emitter, log)
	visioSvc := visio.NewService(visioRepo, committer, emitter, log, cfg.LinkValidity)

	if cfg.ConsumeExternal {
		consumer := broker.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, broker.NewExternalHandlers(dir, log).Map(), log)
		go func() {
			if err := consumer.Run(rootCtx); err != nil {
				log.Error("external consumer stopped", "error", err)
			}
		}()
		defer func() {
			if err := consumer.Close(); err != nil {
				log.Warn("error closing consumer", "error", err)
			}
		}()
	}

	health := api.NewHealthHandler(
		map[string]api.Check{"postgres": pgPool.Ping},
		map[string]api.Check{"redis": redisclient.Check(rdb)},
		cfg.Env, version,
	)

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Appointments:         apptSvc,
			AppointmentViews:     apptViews,
			AppointmentProjector: apptProjector,
			Visios:               visioSvc,
			VisioViews:           visioViews,
			VisioProjector:       visioProjector,
			Health:               health,
			Log:                  log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "error", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown error", "error", err)
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Warn("dispatcher did not drain", "error", err)
	}
}

func newPublisher(cfg config.Config, log *logger.Logger) (es.Publisher, func(), error) {
	encoder := broker.NewEncoder(cfg.EventSource, broker.DefaultTopics())
	switch cfg.EventTransport {
	case config.TransportKafka:
		p := broker.NewKafkaPublisher(cfg.KafkaBrokers, encoder, log)
		return p, func() {
			if err := p.Close(); err != nil {
				log.Warn("error closing kafka writers", "error", err)
			}
		}, nil
	case config.TransportNATS:
		conn, err := broker.ConnectNATS(cfg.NATSURL, cfg.EventSource, log)
		if err != nil {
			return nil, nil, err
		}
		return broker.NewNATSPublisher(conn, encoder, log), func() {
			if err := conn.Drain(); err != nil {
				log.Warn("error draining nats", "error", err)
			}
		}, nil
	default:
		return broker.NopPublisher{Log: log}, func() {}, nil
	}
}

package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/eventsourced-scheduling/internal/appointment"
	"github.com/hackgods/eventsourced-scheduling/internal/config"
	"github.com/hackgods/eventsourced-scheduling/internal/db"
	"github.com/hackgods/eventsourced-scheduling/internal/directory"
	"github.com/hackgods/eventsourced-scheduling/internal/integrations"
	"github.com/hackgods/eventsourced-scheduling/internal/logger"
	redisclient "github.com/hackgods/eventsourced-scheduling/internal/redis"
	"github.com/hackgods/eventsourced-scheduling/internal/saga"
	"github.com/hackgods/eventsourced-scheduling/internal/telemetry"
)

type worker struct {
	views    *appointment.GormReadStore
	dedupe   *redisclient.Deduper
	reminder *saga.ReminderSaga
	cursor   *saga.ReminderCursor
	log      *logger.Logger
}

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

	log.Info("reminder-worker starting up", "env", cfg.Env, "interval", cfg.WorkerInterval, "lead", cfg.ReminderLead)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", "error", err)
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	gdb, err := db.OpenGorm(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("gorm open error", "error", err)
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

	retry := saga.DefaultRetryPolicy()
	retry.MaxTries = cfg.SagaStepRetries
	dir := directory.NewPgDirectory(pgPool)

	// a reminder claim must outlive the lead time or a later window could
	// send it again after a restart
	dedupe := redisclient.NewDeduper(rdb, cfg.ReminderLead+cfg.WorkerInterval)

	w := &worker{
		views:  appointment.NewGormReadStore(gdb),
		dedupe: dedupe,
		reminder: saga.NewReminderSaga(&saga.Deps{
			Notifier: integrations.NewLogNotifier(log),
			Patients: dir,
			Doctors:  dir,
			Emitter:  telemetry.NewLogEmitter(log),
			Log:      log,
			Retry:    retry,
		}),
		cursor: saga.NewReminderCursor(cfg.ReminderLead, cfg.WorkerInterval),
		log:    log,
	}

	w.runOnce(rootCtx)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping reminder worker")
			return
		case <-ticker.C:
			w.runOnce(rootCtx)
		}
	}
}

func (w *worker) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	from, to := w.cursor.Window(start)
	due, err := w.views.FindConfirmedStartingBetween(runCtx, from, to)
	if err != nil {
		w.log.Error("reminder run error", "error", err)
		return
	}

	// a failed send moves the cursor only up to that appointment so the
	// next run picks it up again
	scanned := to
	sent := 0
	for _, v := range due {
		ok, err := w.dedupe.Claim(runCtx, "reminder", v.AppointmentID)
		if err != nil {
			w.log.Warn("reminder claim failed", "appointment_id", v.AppointmentID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		outcome := w.reminder.Send(runCtx, v)
		if outcome.Err != nil {
			if v.StartDate.Before(scanned) {
				scanned = v.StartDate
			}
			if err := w.dedupe.Release(runCtx, "reminder", v.AppointmentID); err != nil {
				w.log.Warn("reminder release failed", "appointment_id", v.AppointmentID, "error", err)
			}
			continue
		}
		sent++
	}
	w.cursor.Advance(scanned)
	w.log.Info("reminder run complete", "from", from, "to", to, "due", len(due), "sent", sent, "took", time.Since(start))
}

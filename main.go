package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	fibermonitor "github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/paycycle/paycycle/app/models"
	"github.com/paycycle/paycycle/app/repository"
	"github.com/paycycle/paycycle/internal/pkg/cache"
	"github.com/paycycle/paycycle/internal/pkg/database"
	"github.com/paycycle/paycycle/internal/pkg/env"
	"github.com/paycycle/paycycle/internal/pkg/gateway"
	"github.com/paycycle/paycycle/internal/pkg/monitor"
	"github.com/paycycle/paycycle/internal/pkg/notify"
	"github.com/paycycle/paycycle/internal/pkg/processor"
	"github.com/paycycle/paycycle/internal/pkg/router"
	"github.com/paycycle/paycycle/internal/pkg/scheduler"
	"github.com/paycycle/paycycle/internal/pkg/webhook"
)

const (
	recentErrorsCacheKey    = "paycycle:recent_errors"
	lastCycleReportCacheKey = "paycycle:last_cycle_report"
)

func main() {
	app, sched := NewApplication()

	// Stop ticking before the listener goes away so in-flight jobs finish.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		sched.Stop()
		_ = app.Shutdown()
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

// NewApplication wires the full service graph and returns the HTTP app plus
// the started scheduler. Everything is constructed here and injected down;
// no package holds a service singleton.
func NewApplication() (*fiber.App, *scheduler.Scheduler) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	factory := repository.NewFactory(database.GetDB())
	repos := factory.Repositories()

	mon := monitor.New(
		monitorWindow(),
		monitor.DefaultThresholds(),
		monitor.WithAlertRepository(repos.Alert),
		monitor.WithErrorSink(mirrorFailureToCache),
	)

	gatewayClient := gateway.NewMidtransClientFromEnv()
	proc := processor.New(repos, gatewayClient, mon, workerCount())

	ingestor := webhook.NewIngestor(
		factory,
		models.GatewayProviderMidtrans,
		env.GetEnv("WEBHOOK_SIGNING_SECRET", ""),
		mon,
		notify.SMTPNotifier{},
		env.GetEnv("OPS_ALERT_EMAIL", ""),
	)

	sched := scheduler.New(mon)
	registerJobs(sched, proc, mon)
	sched.Start()

	app := fiber.New(fiber.Config{
		AppName:      "paycycle",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})
	app.Use(recover.New(), logger.New())
	installMetrics(app)

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Processor:    proc,
		Ingestor:     ingestor,
		Scheduler:    sched,
		Monitor:      mon,
		RecentErrors: readRecentErrorsFromCache,
		LastCycle:    readLastCycleReport,
	})

	return app, sched
}

// installMetrics exposes the fiber runtime monitor. The page shows request
// and memory internals, so it only goes up when credentials are configured.
func installMetrics(app *fiber.App) {
	user := env.GetEnv("METRICS_USER", "")
	password := env.GetEnv("METRICS_PASSWORD", "")
	if user == "" || password == "" {
		return
	}

	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			user: password,
		},
	}), fibermonitor.New())
}

func registerJobs(sched *scheduler.Scheduler, proc *processor.Processor, mon *monitor.Monitor) {
	mustRegister(sched, "recurring-payments", env.GetEnv("CRON_RECURRING_PAYMENTS", "*/5 * * * *"),
		func(ctx context.Context) error {
			report, err := proc.RunDueCycle(ctx, time.Now(), processor.ScopeAllUsers())
			if report != nil {
				if payload, merr := json.Marshal(report); merr == nil {
					_ = cache.Set(lastCycleReportCacheKey, string(payload), 24*time.Hour)
				}
			}
			return err
		})

	mustRegister(sched, "health-check", env.GetEnv("CRON_HEALTH_CHECK", "* * * * *"),
		func(ctx context.Context) error {
			mon.GetSystemHealth()
			return nil
		})

	mustRegister(sched, "alert-cleanup", env.GetEnv("CRON_ALERT_CLEANUP", "0 3 * * *"),
		func(ctx context.Context) error {
			mon.ClearOldAlerts(30 * 24 * time.Hour)
			return nil
		})
}

func mustRegister(sched *scheduler.Scheduler, id, spec string, fn scheduler.JobFunc) {
	if err := sched.Register(id, spec, fn); err != nil {
		log.Fatalf("register job %s: %v", id, err)
	}
}

// mirrorFailureToCache keeps the last failures in a capped Redis list so the
// health endpoint can show them across replicas and restarts.
func mirrorFailureToCache(fctx monitor.FailureContext) {
	payload, err := json.Marshal(fctx)
	if err != nil {
		return
	}
	_ = cache.PushCapped(recentErrorsCacheKey, string(payload), 50)
}

// readRecentErrorsFromCache is the read side of the mirror: newest first,
// at most limit entries. Errors and unreadable entries yield nil so the
// health endpoint falls back to the in-memory ring.
func readRecentErrorsFromCache(limit int) []monitor.FailureContext {
	entries, err := cache.ListRange(recentErrorsCacheKey, 0, int64(limit)-1)
	if err != nil {
		return nil
	}

	out := make([]monitor.FailureContext, 0, len(entries))
	for _, raw := range entries {
		var fctx monitor.FailureContext
		if err := json.Unmarshal([]byte(raw), &fctx); err != nil {
			continue
		}
		out = append(out, fctx)
	}
	return out
}

// readLastCycleReport returns the report of the most recent scheduled due
// cycle, stored by the recurring-payments job.
func readLastCycleReport() (string, bool) {
	raw, err := cache.Get(lastCycleReportCacheKey)
	if err != nil || raw == "" {
		return "", false
	}
	return raw, true
}

func monitorWindow() time.Duration {
	minutes, err := strconv.Atoi(env.GetEnv("MONITOR_WINDOW_MINUTES", "60"))
	if err != nil || minutes <= 0 {
		minutes = 60
	}
	return time.Duration(minutes) * time.Minute
}

func workerCount() int {
	n, err := strconv.Atoi(env.GetEnv("PROCESSOR_WORKERS", "4"))
	if err != nil || n <= 0 {
		n = 4
	}
	return n
}

package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/paycycle/paycycle/app/controllers"
	"github.com/paycycle/paycycle/internal/pkg/cache"
	"github.com/paycycle/paycycle/internal/pkg/env"
	"github.com/paycycle/paycycle/internal/pkg/middleware"
)

type ApiRouter struct {
	deps Dependencies
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}

func (h *ApiRouter) InstallRouter(app *fiber.App) {
	cronController := controllers.NewCronController(h.deps.Processor)
	webhookController := controllers.NewWebhookController(h.deps.Ingestor)
	schedulerController := controllers.NewSchedulerController(h.deps.Scheduler)
	healthController := controllers.NewHealthController(h.deps.Monitor, h.deps.RecentErrors, h.deps.LastCycle)

	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Storage:    limiterStorage(),
	}))

	v1 := api.Group("/v1")
	v1.Get("/health", healthController.HandleHealth)

	// Gateway deliveries authenticate with the HMAC signature on the body,
	// checked inside the ingestor before anything is stored.
	v1.Post("/webhooks/payments", webhookController.HandlePaymentWebhook)

	cron := v1.Group("/cron", middleware.RequireCronSecret(env.GetEnv("CRON_TRIGGER_SECRET", "")))
	cron.Post("/run", cronController.HandleRunDueCycle)

	admin := v1.Group("/admin", middleware.RequireAdminToken(env.GetEnv("ADMIN_API_TOKEN", "")))
	admin.Get("/scheduler", schedulerController.HandleStats)
	admin.Post("/scheduler/:action", schedulerController.HandleAction)
	admin.Put("/monitor/thresholds", healthController.HandleUpdateThresholds)
}

// limiterStorage backs the rate limiter with Redis so limits hold across
// replicas. Reuses the cache client's connection settings; falls back to
// the limiter's in-memory store when no cache client is configured.
func limiterStorage() fiber.Storage {
	cacheClient := cache.GetClient()
	if cacheClient == nil {
		return nil
	}

	host := "localhost"
	port := 6379
	if h, p, err := net.SplitHostPort(cacheClient.Options().Addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}

	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: cacheClient.Options().Password,
		Database: 1,
		Reset:    false,
	})
}

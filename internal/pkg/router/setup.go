package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/paycycle/paycycle/app/controllers"
	"github.com/paycycle/paycycle/internal/pkg/monitor"
	"github.com/paycycle/paycycle/internal/pkg/processor"
	"github.com/paycycle/paycycle/internal/pkg/scheduler"
	"github.com/paycycle/paycycle/internal/pkg/webhook"
)

// Dependencies carries the constructed services into route registration.
// Controllers receive them by injection; there are no service singletons.
type Dependencies struct {
	Processor *processor.Processor
	Ingestor  *webhook.Ingestor
	Scheduler *scheduler.Scheduler
	Monitor   *monitor.Monitor

	// Optional read paths backed by the cache; nil is tolerated.
	RecentErrors controllers.RecentErrorSource
	LastCycle    controllers.LastCycleSource
}

type Router interface {
	InstallRouter(app *fiber.App)
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	setup(app, NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}

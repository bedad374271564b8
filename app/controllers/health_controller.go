package controllers

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/paycycle/paycycle/internal/pkg/monitor"
)

const recentErrorLimit = 10

// RecentErrorSource reads back failure contexts mirrored outside the
// process (the capped Redis list), newest first. A nil source or an empty
// read falls back to the monitor's in-memory ring.
type RecentErrorSource func(limit int) []monitor.FailureContext

// LastCycleSource returns the most recent due-cycle report as raw JSON.
type LastCycleSource func() (string, bool)

// HealthController reports the rolling-window payment health classification.
type HealthController struct {
	monitor      *monitor.Monitor
	recentErrors RecentErrorSource
	lastCycle    LastCycleSource
}

func NewHealthController(mon *monitor.Monitor, recentErrors RecentErrorSource, lastCycle LastCycleSource) *HealthController {
	return &HealthController{monitor: mon, recentErrors: recentErrors, lastCycle: lastCycle}
}

// HandleHealth returns the current classification, window statistics,
// active alerts and the most recent failure contexts. Degraded and
// critical map to 200 with the status in the body; load balancers key on
// the JSON, not the HTTP code. The mirrored error list is preferred over
// the in-memory ring because it survives restarts and covers all replicas.
func (hc *HealthController) HandleHealth(c *fiber.Ctx) error {
	status, stats := hc.monitor.GetSystemHealth()

	recent := hc.monitor.RecentErrors(recentErrorLimit)
	if hc.recentErrors != nil {
		if mirrored := hc.recentErrors(recentErrorLimit); len(mirrored) > 0 {
			recent = mirrored
		}
	}

	resp := fiber.Map{
		"status":        status,
		"stats":         stats,
		"alerts":        hc.monitor.ActiveAlerts(),
		"recent_errors": recent,
	}
	if hc.lastCycle != nil {
		if raw, ok := hc.lastCycle(); ok {
			resp["last_cycle"] = json.RawMessage(raw)
		}
	}
	return c.JSON(resp)
}

// HandleUpdateThresholds replaces the alerting thresholds at runtime.
func (hc *HealthController) HandleUpdateThresholds(c *fiber.Ctx) error {
	var thresholds monitor.Thresholds
	if err := c.BodyParser(&thresholds); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}
	if err := thresholds.Validate(); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	hc.monitor.UpdateAlertConfig(thresholds)
	return c.JSON(fiber.Map{"status": "ok", "thresholds": thresholds})
}

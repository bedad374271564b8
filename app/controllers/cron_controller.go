package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/paycycle/paycycle/internal/pkg/processor"
)

// CronController exposes the external trigger endpoint for the recurring
// payment cycle. External cron callers (or an operator with curl) hit it
// with the shared secret; the scheduler uses the processor directly.
type CronController struct {
	processor *processor.Processor
}

func NewCronController(p *processor.Processor) *CronController {
	return &CronController{processor: p}
}

type cronRunRequest struct {
	UserID            *uint `json:"user_id"`
	SpecificPaymentID *uint `json:"specific_payment_id"`
	ForceProcess      bool  `json:"force_process"`
}

// HandleRunDueCycle runs one due cycle and returns the per-cycle report.
// An empty body processes everything due across all users; user_id narrows
// to one user; specific_payment_id with force_process materializes a single
// schedule even when it is not due yet.
func (cc *CronController) HandleRunDueCycle(c *fiber.Ctx) error {
	var req cronRunRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
		}
	}

	scope := processor.ScopeAllUsers()
	switch {
	case req.SpecificPaymentID != nil:
		scope = processor.ScopeSchedule(*req.SpecificPaymentID, req.ForceProcess)
	case req.UserID != nil:
		scope = processor.ScopeUser(*req.UserID)
	}

	report, err := cc.processor.RunDueCycle(c.UserContext(), time.Now(), scope)
	if err != nil {
		log.Errorf("[CronController] due cycle failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Due cycle failed"})
	}

	return c.JSON(report)
}

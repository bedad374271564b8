package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/paycycle/paycycle/internal/pkg/scheduler"
)

// SchedulerController exposes operator control over registered jobs.
type SchedulerController struct {
	scheduler *scheduler.Scheduler
}

func NewSchedulerController(s *scheduler.Scheduler) *SchedulerController {
	return &SchedulerController{scheduler: s}
}

type schedulerActionRequest struct {
	Job  string `json:"job"`
	Spec string `json:"spec"`
}

// HandleStats lists all registered jobs with their run statistics.
func (sc *SchedulerController) HandleStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"running": sc.scheduler.IsRunning(),
		"jobs":    sc.scheduler.AllStats(),
	})
}

// HandleAction applies one operator action. start and stop act on the
// scheduler itself; force-run (synchronous execution), enable, disable and
// update-schedule act on the job named in the body.
func (sc *SchedulerController) HandleAction(c *fiber.Ctx) error {
	action := strings.ToLower(c.Params("action"))

	switch action {
	case "start":
		sc.scheduler.Start()
		return c.JSON(fiber.Map{"status": "ok", "running": true})
	case "stop":
		sc.scheduler.Stop()
		return c.JSON(fiber.Map{"status": "ok", "running": false})
	}

	var req schedulerActionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}
	if req.Job == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Missing job id"})
	}

	var err error
	switch action {
	case "force-run":
		err = sc.scheduler.ForceRun(req.Job)
	case "enable":
		err = sc.scheduler.Enable(req.Job)
	case "disable":
		err = sc.scheduler.Disable(req.Job)
	case "update-schedule":
		if req.Spec == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Missing cron spec"})
		}
		err = sc.scheduler.UpdateSchedule(req.Job, req.Spec)
	default:
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Unknown action"})
	}

	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Unknown job"})
	case errors.Is(err, scheduler.ErrJobAlreadyRunning):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "Job is already running"})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": err.Error()})
	}

	stats, statsErr := sc.scheduler.Stats(req.Job)
	if statsErr != nil {
		return c.JSON(fiber.Map{"status": "ok"})
	}
	return c.JSON(fiber.Map{"status": "ok", "job": stats})
}

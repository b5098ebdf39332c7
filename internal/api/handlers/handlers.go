package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/voice-campaign-control/internal/app"
	"github.com/acme/voice-campaign-control/internal/repository"
	"github.com/acme/voice-campaign-control/internal/scheduler"
)

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	container    *app.Container
	orchestrator *scheduler.Orchestrator
	campaigns    repository.CampaignStore
	history      repository.CallHistoryStore
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(container *app.Container) *HandlerSet {
	campaigns, _, history := container.Stores()
	return &HandlerSet{
		container:    container,
		orchestrator: container.Orchestrator(),
		campaigns:    campaigns,
		history:      history,
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	// Webhooks sit outside the versioned API; their paths are registered
	// with the engine and the telephony providers.
	app.Post("/webhook/engine", h.engineWebhook)
	app.Post("/webhook/twilio/status", h.twilioStatusWebhook)
	app.Post("/webhook/plivo/status", h.plivoStatusWebhook)
	app.Post("/webhook/telnyx/status", h.telnyxStatusWebhook)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	campaigns := v1.Group("/campaigns")
	campaigns.Post("/", h.createCampaign)
	campaigns.Get("/", h.listCampaigns)
	campaigns.Get("/resumable", h.resumableCampaigns)
	campaigns.Get("/pending-summary", h.pendingContactsSummary)
	campaigns.Get("/call-state", h.userCallState)
	campaigns.Post("/reset-call-state", h.resetCallState)
	campaigns.Get("/:id", h.getCampaign)
	campaigns.Get("/:id/contacts", h.listContacts)
	campaigns.Get("/:id/calls", h.listCampaignCalls)
	campaigns.Post("/:id/start", h.startCampaign)
	campaigns.Post("/:id/pause", h.pauseCampaign)
	campaigns.Post("/:id/resume", h.resumeCampaign)
	campaigns.Post("/:id/instant-call", h.generateInstantCall)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.container.Logger.Error("request failed", zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.Context(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)

	if err := h.container.Postgres.DB().PingContext(healthCtx); err != nil {
		errs["postgres"] = err.Error()
	}

	if err := h.container.Redis.Inner().Ping(healthCtx).Err(); err != nil {
		errs["redis"] = err.Error()
	}

	if err := h.container.Scylla.Session().Query("SELECT now() FROM system.local").WithContext(healthCtx).Exec(); err != nil {
		errs["scylla"] = err.Error()
	}

	status := fiber.StatusOK
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
	}

	return ctx.Status(status).JSON(fiber.Map{"status": "ok", "errors": errs})
}

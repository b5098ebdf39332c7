package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/voice-campaign-control/internal/webhook"
)

// Webhook handlers always answer 200 once the payload is readable: the
// engine and the providers retry non-2xx responses, and a retried event we
// already applied is just a duplicate for the reducer to ignore. Processing
// errors are logged, not surfaced.

func (h *HandlerSet) engineWebhook(ctx *fiber.Ctx) error {
	body := ctx.Body()
	secret := h.container.Config.Engine.WebhookSecret
	if !webhook.VerifySignature(secret, body, ctx.Get("X-Webhook-Signature")) {
		return fiber.NewError(http.StatusUnauthorized, "invalid signature")
	}

	var ev webhook.EngineEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	switch {
	case ev.Event == webhook.EngineCallJoined:
		if ev.Call.JoinedAt != nil {
			if err := h.orchestrator.MarkCallJoined(ctx.Context(), ev.Call.ID, *ev.Call.JoinedAt); err != nil {
				h.container.Logger.Warn("mark call joined failed",
					zap.String("engine_call_id", ev.Call.ID), zap.Error(err))
			}
		}
	case ev.Terminal():
		if err := h.orchestrator.HandleCallTerminated(ctx.Context(), ev.Normalize()); err != nil {
			h.container.Logger.Error("engine webhook processing failed",
				zap.String("engine_call_id", ev.Call.ID), zap.Error(err))
		}
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"received": true})
}

func (h *HandlerSet) twilioStatusWebhook(ctx *fiber.Ctx) error {
	status := webhook.TwilioStatus{
		CallSid:      ctx.FormValue("CallSid"),
		CallStatus:   ctx.FormValue("CallStatus"),
		CallDuration: ctx.FormValue("CallDuration"),
	}

	if status.Terminal() {
		corr := h.correlationFromQuery(ctx)
		if err := h.orchestrator.HandleCallTerminated(ctx.Context(), status.Normalize(corr)); err != nil {
			h.container.Logger.Error("twilio webhook processing failed",
				zap.String("call_sid", status.CallSid), zap.Error(err))
		}
	}

	// Twilio expects TwiML back on status callbacks.
	ctx.Set(fiber.HeaderContentType, "text/xml")
	return ctx.Status(http.StatusOK).SendString("<Response></Response>")
}

func (h *HandlerSet) plivoStatusWebhook(ctx *fiber.Ctx) error {
	status := webhook.PlivoStatus{
		CallUUID:        ctx.FormValue("CallUUID"),
		CallStatus:      ctx.FormValue("CallStatus"),
		Duration:        ctx.FormValue("Duration"),
		HangupCause:     ctx.FormValue("HangupCause"),
		MachineDetected: ctx.FormValue("Machine") == "true",
	}

	if status.Terminal() {
		corr := h.correlationFromQuery(ctx)
		if err := h.orchestrator.HandleCallTerminated(ctx.Context(), status.Normalize(corr)); err != nil {
			h.container.Logger.Error("plivo webhook processing failed",
				zap.String("call_uuid", status.CallUUID), zap.Error(err))
		}
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"received": true})
}

func (h *HandlerSet) telnyxStatusWebhook(ctx *fiber.Ctx) error {
	var ev webhook.TelnyxEvent
	if err := json.Unmarshal(ctx.Body(), &ev); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	if ev.Terminal() {
		corr := h.correlationFromQuery(ctx)
		if err := h.orchestrator.HandleCallTerminated(ctx.Context(), ev.Normalize(corr)); err != nil {
			h.container.Logger.Error("telnyx webhook processing failed",
				zap.String("call_control_id", ev.Data.Payload.CallControlID), zap.Error(err))
		}
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"received": true})
}

func (h *HandlerSet) correlationFromQuery(ctx *fiber.Ctx) webhook.Correlation {
	return webhook.ParseCorrelation(
		ctx.Query("campaignId"),
		ctx.Query("contactId"),
		ctx.Query("callHistoryId"),
	)
}

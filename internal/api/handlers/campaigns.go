package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/voice-campaign-control/internal/domain"
	apperrors "github.com/acme/voice-campaign-control/pkg/errors"
)

type createCampaignRequest struct {
	UserID        string           `json:"user_id"`
	Name          string           `json:"name"`
	AgentID       string           `json:"agent_id"`
	ScheduledDate string           `json:"scheduled_date"` // YYYY-MM-DD
	StartTime     string           `json:"start_time"`     // HH:MM
	EndTime       string           `json:"end_time"`       // HH:MM
	Timezone      string           `json:"timezone"`
	Medium        *mediumRequest   `json:"medium"`
	Contacts      []contactRequest `json:"contacts"`
}

type mediumRequest struct {
	Provider  string `json:"provider"`
	FromPhone string `json:"from_phone"`
}

type contactRequest struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
}

type campaignResponse struct {
	ID              uuid.UUID             `json:"id"`
	UserID          uuid.UUID             `json:"user_id"`
	Name            string                `json:"name"`
	AgentID         string                `json:"agent_id"`
	Status          domain.CampaignStatus `json:"status"`
	ScheduledDate   string                `json:"scheduled_date,omitempty"`
	StartTime       string                `json:"start_time,omitempty"`
	EndTime         string                `json:"end_time,omitempty"`
	Timezone        string                `json:"timezone,omitempty"`
	Medium          *mediumRequest        `json:"medium,omitempty"`
	CompletedCalls  int                   `json:"completed_calls"`
	SuccessfulCalls int                   `json:"successful_calls"`
	FailedCalls     int                   `json:"failed_calls"`
	PausedReason    string                `json:"paused_reason,omitempty"`
	StartedAt       *time.Time            `json:"started_at,omitempty"`
	CompletedAt     *time.Time            `json:"completed_at,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
}

type contactResponse struct {
	ID           uuid.UUID            `json:"id"`
	Name         string               `json:"name"`
	PhoneNumber  string               `json:"phone_number"`
	Position     int                  `json:"position"`
	CallStatus   domain.ContactStatus `json:"call_status"`
	EngineCallID string               `json:"engine_call_id,omitempty"`
	CalledAt     *time.Time           `json:"called_at,omitempty"`
	CallDuration int                  `json:"call_duration_seconds"`
	CallNotes    string               `json:"call_notes,omitempty"`
}

func (h *HandlerSet) createCampaign(ctx *fiber.Ctx) error {
	var req createCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	campaign, contacts, err := buildCampaign(req)
	if err != nil {
		return translateError(err)
	}

	if err := h.campaigns.Create(ctx.Context(), campaign, contacts); err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(toCampaignResponse(campaign))
}

func buildCampaign(req createCampaignRequest) (*domain.Campaign, []domain.Contact, error) {
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: invalid user_id", apperrors.ErrValidation)
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, nil, fmt.Errorf("%w: name is required", apperrors.ErrValidation)
	}
	if req.AgentID == "" {
		return nil, nil, fmt.Errorf("%w: agent_id is required", apperrors.ErrValidation)
	}
	if len(req.Contacts) == 0 {
		return nil, nil, fmt.Errorf("%w: at least one contact is required", apperrors.ErrValidation)
	}

	now := time.Now().UTC()
	campaign := &domain.Campaign{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      req.Name,
		Type:      domain.CampaignTypeOutbound,
		AgentID:   req.AgentID,
		Status:    domain.CampaignStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if req.ScheduledDate != "" {
		date, err := time.Parse("2006-01-02", req.ScheduledDate)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: invalid scheduled_date, want YYYY-MM-DD", apperrors.ErrValidation)
		}
		if _, err := time.Parse("15:04", req.StartTime); err != nil {
			return nil, nil, fmt.Errorf("%w: invalid start_time, want HH:MM", apperrors.ErrValidation)
		}
		if req.EndTime != "" {
			if _, err := time.Parse("15:04", req.EndTime); err != nil {
				return nil, nil, fmt.Errorf("%w: invalid end_time, want HH:MM", apperrors.ErrValidation)
			}
		}
		if req.Timezone != "" {
			if _, err := time.LoadLocation(req.Timezone); err != nil {
				return nil, nil, fmt.Errorf("%w: unknown timezone %q", apperrors.ErrValidation, req.Timezone)
			}
		}
		campaign.Schedule = &domain.Schedule{
			ScheduledDate: date,
			StartTime:     req.StartTime,
			EndTime:       req.EndTime,
			Timezone:      req.Timezone,
		}
		campaign.Status = domain.CampaignStatusScheduled
	}

	if req.Medium != nil {
		campaign.Medium = &domain.OutboundMedium{
			Provider:  req.Medium.Provider,
			FromPhone: req.Medium.FromPhone,
		}
	}

	contacts := make([]domain.Contact, 0, len(req.Contacts))
	for i, c := range req.Contacts {
		phone := strings.TrimSpace(c.PhoneNumber)
		if !strings.HasPrefix(phone, "+") || len(phone) < 8 {
			return nil, nil, fmt.Errorf("%w: contact %d: phone_number must be E.164", apperrors.ErrValidation, i)
		}
		contacts = append(contacts, domain.Contact{
			ID:          uuid.New(),
			CampaignID:  campaign.ID,
			Name:        c.Name,
			PhoneNumber: phone,
			Position:    i,
			CallStatus:  domain.ContactStatusPending,
			CreatedAt:   now,
		})
	}

	return campaign, contacts, nil
}

func (h *HandlerSet) listCampaigns(ctx *fiber.Ctx) error {
	userID, err := parseUUID(ctx.Query("user_id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "user_id query parameter is required")
	}

	var campaigns []*domain.Campaign
	if status := ctx.Query("status"); status != "" {
		campaigns, err = h.campaigns.ListByUserAndStatus(ctx.Context(), userID, domain.CampaignTypeOutbound, domain.CampaignStatus(status))
	} else {
		campaigns, err = h.campaigns.ListByUser(ctx.Context(), userID, domain.CampaignTypeOutbound)
	}
	if err != nil {
		return translateError(err)
	}

	resp := make([]campaignResponse, 0, len(campaigns))
	for _, c := range campaigns {
		resp = append(resp, toCampaignResponse(c))
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"campaigns": resp})
}

func (h *HandlerSet) getCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	campaign, err := h.campaigns.Get(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	counts, err := h.campaigns.ContactStatusCounts(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"campaign":       toCampaignResponse(campaign),
		"contact_counts": counts,
	})
}

func (h *HandlerSet) listContacts(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	limit, _ := strconv.Atoi(ctx.Query("limit", "200"))
	status := domain.ContactStatus(ctx.Query("status", ""))

	contacts, err := h.campaigns.ListContacts(ctx.Context(), id, status, limit)
	if err != nil {
		return translateError(err)
	}

	resp := make([]contactResponse, 0, len(contacts))
	for _, c := range contacts {
		resp = append(resp, contactResponse{
			ID:           c.ID,
			Name:         c.Name,
			PhoneNumber:  c.PhoneNumber,
			Position:     c.Position,
			CallStatus:   c.CallStatus,
			EngineCallID: c.EngineCallID,
			CalledAt:     c.CalledAt,
			CallDuration: c.CallDuration,
			CallNotes:    c.CallNotes,
		})
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"contacts": resp})
}

func (h *HandlerSet) listCampaignCalls(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	limit, _ := strconv.Atoi(ctx.Query("limit", "100"))
	records, err := h.history.ListByCampaign(ctx.Context(), id, limit)
	if err != nil {
		return translateError(err)
	}

	calls := make([]fiber.Map, 0, len(records))
	for _, r := range records {
		calls = append(calls, fiber.Map{
			"engine_call_id": r.EngineCallID,
			"contact_id":     r.ContactID,
			"customer_name":  r.CustomerName,
			"customer_phone": r.CustomerPhone,
			"status":         r.Status,
			"started_at":     r.StartedAt,
			"joined_at":      r.JoinedAt,
			"ended_at":       r.EndedAt,
			"duration":       r.Duration,
			"end_reason":     r.EndReason,
			"billed_seconds": r.BilledSeconds,
			"short_summary":  r.ShortSummary,
			"recording_url":  r.RecordingURL,
		})
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"calls": calls})
}

func (h *HandlerSet) startCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	if err := h.orchestrator.StartNow(ctx.Context(), id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) pauseCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = ctx.BodyParser(&req)

	if err := h.orchestrator.Pause(ctx.Context(), id, req.Reason); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) resumeCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	if err := h.orchestrator.Resume(ctx.Context(), id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) resumableCampaigns(ctx *fiber.Ctx) error {
	userID, err := parseUUID(ctx.Query("user_id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "user_id query parameter is required")
	}

	resumable, err := h.orchestrator.GetResumableCampaigns(ctx.Context(), userID)
	if err != nil {
		return translateError(err)
	}

	out := make([]fiber.Map, 0, len(resumable))
	for _, r := range resumable {
		out = append(out, fiber.Map{
			"campaign":  toCampaignResponse(r.Campaign),
			"in_window": r.InWindow,
		})
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"campaigns": out})
}

func (h *HandlerSet) pendingContactsSummary(ctx *fiber.Ctx) error {
	userID, err := parseUUID(ctx.Query("user_id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "user_id query parameter is required")
	}

	summaries, err := h.orchestrator.GetPendingContactsSummary(ctx.Context(), userID)
	if err != nil {
		return translateError(err)
	}

	out := make([]fiber.Map, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, fiber.Map{
			"campaign_id": s.CampaignID,
			"name":        s.Name,
			"status":      s.Status,
			"counts":      s.Counts,
		})
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"campaigns": out})
}

func (h *HandlerSet) userCallState(ctx *fiber.Ctx) error {
	userID, err := parseUUID(ctx.Query("user_id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "user_id query parameter is required")
	}

	state := h.orchestrator.GetUserCallState(userID)
	records := make([]fiber.Map, 0, len(state.Records))
	for _, r := range state.Records {
		records = append(records, fiber.Map{
			"key":            r.Key,
			"engine_call_id": r.EngineCallID,
			"campaign_id":    r.CampaignID,
			"contact_id":     r.ContactID,
			"started_at":     r.StartedAt,
		})
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"user_id":      state.UserID,
		"max_calls":    state.MaxCalls,
		"active_calls": state.ActiveCalls,
		"processing":   state.Processing,
		"records":      records,
	})
}

func (h *HandlerSet) resetCallState(ctx *fiber.Ctx) error {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	userID, err := parseUUID(req.UserID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid user_id")
	}

	n, err := h.orchestrator.ResetUserCallState(ctx.Context(), userID)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"contacts_reset": n})
}

func (h *HandlerSet) generateInstantCall(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	contact, err := h.orchestrator.GenerateInstantCall(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{
		"contact_id":     contact.ID,
		"phone_number":   contact.PhoneNumber,
		"call_status":    contact.CallStatus,
		"engine_call_id": contact.EngineCallID,
	})
}

func toCampaignResponse(c *domain.Campaign) campaignResponse {
	resp := campaignResponse{
		ID:              c.ID,
		UserID:          c.UserID,
		Name:            c.Name,
		AgentID:         c.AgentID,
		Status:          c.Status,
		CompletedCalls:  c.CompletedCalls,
		SuccessfulCalls: c.SuccessfulCalls,
		FailedCalls:     c.FailedCalls,
		PausedReason:    c.PausedReason,
		StartedAt:       c.StartedAt,
		CompletedAt:     c.CompletedAt,
		CreatedAt:       c.CreatedAt,
	}
	if c.Schedule != nil {
		resp.ScheduledDate = c.Schedule.ScheduledDate.Format("2006-01-02")
		resp.StartTime = c.Schedule.StartTime
		resp.EndTime = c.Schedule.EndTime
		resp.Timezone = c.Schedule.Timezone
	}
	if c.Medium != nil {
		resp.Medium = &mediumRequest{Provider: c.Medium.Provider, FromPhone: c.Medium.FromPhone}
	}
	return resp
}

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(value)
}

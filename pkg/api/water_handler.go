package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/korjavin/familyorganizer/pkg/directory"
	"github.com/korjavin/familyorganizer/pkg/models"
	"github.com/korjavin/familyorganizer/pkg/planner"
	"github.com/korjavin/familyorganizer/pkg/water"
)

// WaterHandler serves water reminder endpoints
type WaterHandler struct {
	water     *water.Scheduler
	directory directory.Directory
}

type remindersRequest struct {
	Enabled *bool `json:"enabled"`
}

type memberRequest struct {
	Name      string   `json:"name"`
	BirthDate string   `json:"birthDate"`
	WeightKg  *float64 `json:"weightKg"`
}

type ackRequest struct {
	Slot     string `json:"slot"`
	AmountMl int    `json:"amountMl"`
}

type memberView struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	DailyNeedMl   int                `json:"dailyNeedMl,omitempty"`
	Slots         []models.WaterSlot `json:"slots,omitempty"`
	Enabled       bool               `json:"enabled"`
	IntakeTodayMl int                `json:"intakeTodayMl"`
}

// NewWaterHandler creates the water handler
func NewWaterHandler(w *water.Scheduler, dir directory.Directory) *WaterHandler {
	return &WaterHandler{water: w, directory: dir}
}

// ListMembers returns every member with their plan and today's intake
func (h *WaterHandler) ListMembers(c *gin.Context) {
	members, apiErr := h.memberViews(c.Request.Context())
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

func (h *WaterHandler) memberViews(ctx context.Context) ([]memberView, *APIError) {
	members, err := h.directory.Members(ctx)
	if err != nil {
		return nil, internalError("failed to list family members")
	}

	views := make([]memberView, 0, len(members))
	for _, m := range members {
		view := memberView{ID: m.ID, Name: m.Name}
		if need, slots, ok := h.water.PlanFor(m); ok {
			view.DailyNeedMl = need
			view.Slots = slots
		}
		if view.Enabled, err = h.water.Enabled(m.ID); err != nil {
			return nil, internalError("failed to read reminder state")
		}
		if view.IntakeTodayMl, err = h.water.IntakeToday(m.ID); err != nil {
			return nil, internalError("failed to read intake")
		}
		views = append(views, view)
	}
	return views, nil
}

// SetReminders enables or disables reminders for the whole family
func (h *WaterHandler) SetReminders(c *gin.Context) {
	var req remindersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidJSON(c)
		return
	}
	if req.Enabled == nil {
		writeError(c, badRequest("invalid_enabled", "enabled is required"))
		return
	}

	count, err := h.water.SetupForFamily(c.Request.Context(), *req.Enabled)
	if errors.Is(err, water.ErrPermissionDenied) {
		writeError(c, forbidden("notification_permission_denied", err.Error()))
		return
	}
	if err != nil {
		writeError(c, &APIError{
			Status:  http.StatusInternalServerError,
			Code:    "reminder_setup_failed",
			Message: err.Error(),
			Details: gin.H{"scheduled": count},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled, "scheduled": count})
}

// Acknowledge records that a member drank for a slot
func (h *WaterHandler) Acknowledge(c *gin.Context) {
	var req ackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidJSON(c)
		return
	}

	memberID := c.Param("id")
	if !h.memberExists(c, memberID) {
		return
	}
	err := h.water.Acknowledge(c.Request.Context(), memberID, req.Slot, req.AmountMl)
	if errors.Is(err, planner.ErrInvalidClock) {
		writeError(c, badRequest("invalid_slot", "slot must be HH:MM"))
		return
	}
	if err != nil {
		writeError(c, internalError("failed to record acknowledgement"))
		return
	}

	intake, err := h.water.IntakeToday(memberID)
	if err != nil {
		writeError(c, internalError("failed to read intake"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"memberId": memberID, "slot": req.Slot, "intakeTodayMl": intake})
}

// Today returns a member's recorded intake for today
func (h *WaterHandler) Today(c *gin.Context) {
	memberID := c.Param("id")
	if !h.memberExists(c, memberID) {
		return
	}
	intake, err := h.water.IntakeToday(memberID)
	if err != nil {
		writeError(c, internalError("failed to read intake"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"memberId": memberID, "intakeTodayMl": intake})
}

// PutMember creates or updates a member in the local mirror
func (h *WaterHandler) PutMember(c *gin.Context) {
	writer, ok := h.directory.(directory.Writer)
	if !ok {
		writeError(c, newAPIError(http.StatusMethodNotAllowed, "members_read_only", "the member directory is read-only"))
		return
	}

	var req memberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidJSON(c)
		return
	}
	if req.Name == "" {
		writeError(c, badRequest("invalid_name", "name is required"))
		return
	}

	member := models.Member{ID: c.Param("id"), Name: req.Name, WeightKg: req.WeightKg}
	if req.BirthDate != "" {
		birth, err := time.Parse(directory.BirthDateLayout, req.BirthDate)
		if err != nil {
			writeError(c, badRequest("invalid_birth_date", "birthDate must be YYYY-MM-DD"))
			return
		}
		member.BirthDate = &birth
	}
	if member.WeightKg != nil && *member.WeightKg <= 0 {
		writeError(c, badRequest("invalid_weight", "weightKg must be positive"))
		return
	}

	if err := writer.Upsert(c.Request.Context(), member); err != nil {
		writeError(c, internalError("failed to save member"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"member": member})
}

func (h *WaterHandler) memberExists(c *gin.Context, memberID string) bool {
	_, err := h.directory.Get(c.Request.Context(), memberID)
	if errors.Is(err, directory.ErrNotFound) {
		writeError(c, notFound("member_not_found", "no family member with id "+memberID))
		return false
	}
	if err != nil {
		writeError(c, internalError("failed to look up member"))
		return false
	}
	return true
}

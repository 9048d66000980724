package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/korjavin/familyorganizer/pkg/cooking"
)

// RecipeSuggester produces timed recipe steps for a dish name
type RecipeSuggester interface {
	RecipeSteps(ctx context.Context, dish string) ([]string, error)
}

// CookingHandler serves cooking timer endpoints
type CookingHandler struct {
	sequencer *cooking.Sequencer
	suggester RecipeSuggester
}

type recipeRequest struct {
	Text string `json:"text"`
	Dish string `json:"dish"`
}

// NewCookingHandler creates the cooking handler. suggester may be nil.
func NewCookingHandler(sequencer *cooking.Sequencer, suggester RecipeSuggester) *CookingHandler {
	return &CookingHandler{sequencer: sequencer, suggester: suggester}
}

// GetState returns the current countdown
func (h *CookingHandler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": h.sequencer.State()})
}

// SetRecipe replaces the plan from recipe text, or from suggested steps for a dish
func (h *CookingHandler) SetRecipe(c *gin.Context) {
	var req recipeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidJSON(c)
		return
	}

	text := req.Text
	if dish := strings.TrimSpace(req.Dish); dish != "" && strings.TrimSpace(text) == "" {
		if h.suggester == nil {
			writeError(c, unavailable("suggestions_disabled", "recipe suggestions are not configured"))
			return
		}
		steps, err := h.suggester.RecipeSteps(c.Request.Context(), dish)
		if err != nil {
			writeError(c, newAPIError(http.StatusBadGateway, "suggestion_failed", "could not get recipe steps"))
			return
		}
		text = strings.Join(steps, "\n")
	}

	if err := h.sequencer.SetRecipe(text); err != nil {
		h.writeSequencerError(c, err)
		return
	}
	plan := h.sequencer.Plan()
	c.JSON(http.StatusOK, gin.H{"steps": plan, "total": plan.TotalSeconds()})
}

// Start begins a session
func (h *CookingHandler) Start(c *gin.Context) {
	state, err := h.sequencer.Start(c.Request.Context())
	if err != nil {
		h.writeSequencerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

// Stop abandons the running session
func (h *CookingHandler) Stop(c *gin.Context) {
	if err := h.sequencer.Stop(c.Request.Context()); err != nil {
		h.writeSequencerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.sequencer.State()})
}

// Finish completes the running session
func (h *CookingHandler) Finish(c *gin.Context) {
	if err := h.sequencer.Finish(c.Request.Context()); err != nil {
		h.writeSequencerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.sequencer.State()})
}

// Restore resumes a persisted session after the host reloaded
func (h *CookingHandler) Restore(c *gin.Context) {
	restored, err := h.sequencer.Restore(c.Request.Context())
	if err != nil {
		h.writeSequencerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"restored": restored, "state": h.sequencer.State()})
}

func (h *CookingHandler) writeSequencerError(c *gin.Context, err error) {
	if errors.Is(err, cooking.ErrSessionActive) {
		writeError(c, conflict("session_active", err.Error(), gin.H{"state": h.sequencer.State()}))
		return
	}
	writeError(c, internalError(err.Error()))
}

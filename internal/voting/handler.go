package voting

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gatherhub/backend/internal/middleware"
	"github.com/gatherhub/backend/internal/models"
	"github.com/gatherhub/backend/pkg/response"
)

// CreateRequest is the body for POST /events/:id/polls.
type CreateRequest struct {
	Title         string          `json:"title" binding:"required"`
	Description   string          `json:"description"`
	Kind          models.PollKind `json:"kind"`
	AllowMultiple bool            `json:"allow_multiple"`
	ClosesAt      *time.Time      `json:"closes_at"`
	Options       []OptionRequest `json:"options" binding:"required"`
}

// OptionRequest is one option in a create or append request.
type OptionRequest struct {
	Text     string     `json:"text" binding:"required"`
	StartsAt *time.Time `json:"starts_at"`
}

// CastRequest is the body for POST /polls/:id/ballots.
type CastRequest struct {
	OptionIDs []uuid.UUID `json:"option_ids" binding:"required"`
}

// Handler handles poll and ballot HTTP endpoints.
type Handler struct {
	lifecycle *Lifecycle
	service   *Service
	store     Store
}

// NewHandler creates a voting handler.
func NewHandler(lifecycle *Lifecycle, service *Service, store Store) *Handler {
	return &Handler{lifecycle: lifecycle, service: service, store: store}
}

// Create handles POST /events/:id/polls.
func (h *Handler) Create(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	in := CreatePollInput{
		Title:         req.Title,
		Description:   req.Description,
		Kind:          req.Kind,
		AllowMultiple: req.AllowMultiple,
		ClosesAt:      req.ClosesAt,
	}
	for _, opt := range req.Options {
		in.Options = append(in.Options, OptionInput{Text: opt.Text, StartsAt: opt.StartsAt})
	}

	poll, err := h.lifecycle.CreatePoll(c.Request.Context(), userID, eventID, in)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, poll)
}

// ListByEvent handles GET /events/:id/polls.
func (h *Handler) ListByEvent(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	polls, err := h.store.ListPollsByEvent(c.Request.Context(), eventID)
	if err != nil {
		response.Internal(c, "failed to list polls")
		return
	}
	response.OK(c, polls)
}

// Get handles GET /polls/:id.
func (h *Handler) Get(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	poll, err := h.lifecycle.ResolvePoll(c.Request.Context(), pollID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, poll)
}

// Results handles GET /polls/:id/results.
func (h *Handler) Results(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	poll, snap, err := h.lifecycle.Snapshot(c.Request.Context(), pollID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, gin.H{"poll": poll, "result_snapshot": snap})
}

// End handles POST /polls/:id/end (creator only; idempotent on retry).
func (h *Handler) End(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	poll, snap, err := h.lifecycle.EndPoll(c.Request.Context(), pollID, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, gin.H{"poll": poll, "result_snapshot": snap})
}

// AddOption handles POST /polls/:id/options.
func (h *Handler) AddOption(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req OptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	poll, err := h.lifecycle.AddOption(c.Request.Context(), pollID, userID, OptionInput{Text: req.Text, StartsAt: req.StartsAt})
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, poll)
}

// Cast handles POST /polls/:id/ballots.
func (h *Handler) Cast(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req CastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	result, err := h.service.CastBallot(c.Request.Context(), pollID, userID, req.OptionIDs)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, result)
}

// Remove handles DELETE /polls/:id/ballots (the caller's own ballot).
func (h *Handler) Remove(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	result, err := h.service.RemoveBallot(c.Request.Context(), pollID, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, result)
}

// MyBallot handles GET /polls/:id/ballots/me.
func (h *Handler) MyBallot(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	ballot, err := h.service.GetBallot(c.Request.Context(), pollID, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, ballot)
}

// writeError maps the voting error taxonomy to HTTP statuses.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrPollNotFound), errors.Is(err, ErrBallotNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrNotCreator), errors.Is(err, ErrNotEligible), errors.Is(err, ErrNotEventMember):
		response.Forbidden(c, err.Error())
	case errors.Is(err, ErrVotingClosed), errors.Is(err, ErrConcurrentModification):
		response.Conflict(c, err.Error())
	case errors.Is(err, ErrInvalidOptionCount), errors.Is(err, ErrInvalidOptionSelection), errors.Is(err, ErrOptionsFrozen):
		response.BadRequest(c, err.Error())
	default:
		response.Internal(c, "internal error")
	}
}

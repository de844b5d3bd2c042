package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/finsight-bot/finsight/internal/ratelimit"
	"github.com/finsight-bot/finsight/internal/users"
)

// Handler exposes the limiter and subscription operations over HTTP for the
// bot frontend.
type Handler struct {
	limiter  *ratelimit.Limiter
	users    *users.Service
	validate *validator.Validate
}

func NewHandler(limiter *ratelimit.Limiter, usersSvc *users.Service) *Handler {
	return &Handler{
		limiter:  limiter,
		users:    usersSvc,
		validate: validator.New(),
	}
}

type checkRequest struct {
	Cost float64 `json:"cost" validate:"gte=0"`
}

type upgradeRequest struct {
	Days int `json:"days" validate:"required,min=1,max=3650"`
}

type statusResponse struct {
	Status  *ratelimit.Status `json:"status"`
	Message string            `json:"message"`
}

// Check runs one admission decision. Denials are domain results, not HTTP
// errors: the response is always 200 with the typed decision inside.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req checkRequest
	if !h.decode(w, r, &req) {
		return
	}
	cost := req.Cost
	if cost == 0 {
		cost = 1
	}

	decision := h.limiter.Check(r.Context(), userID, cost)
	JSON(w, http.StatusOK, decision)
}

// Refund reverses an earlier admission after a downstream failure.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req checkRequest
	if !h.decode(w, r, &req) {
		return
	}
	cost := req.Cost
	if cost == 0 {
		cost = 1
	}

	refunded := h.limiter.Refund(r.Context(), userID, cost)
	JSON(w, http.StatusOK, map[string]bool{"refunded": refunded})
}

// Status returns the composed limiter/subscription state plus the rendered
// display message.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	st, err := h.limiter.Status(r.Context(), userID)
	if err != nil {
		HandleError(w, ErrInternalServer)
		return
	}

	JSON(w, http.StatusOK, statusResponse{
		Status:  st,
		Message: h.limiter.StatusMessage(r.Context(), userID),
	})
}

// Upgrade activates or renews a Pro subscription.
func (h *Handler) Upgrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req upgradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		HandleError(w, ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		HandleError(w, NewBadRequestError("days must be between 1 and 3650"))
		return
	}

	st, err := h.users.Upgrade(r.Context(), userID, req.Days)
	if err != nil {
		HandleError(w, ErrInternalServer)
		return
	}

	JSON(w, http.StatusOK, st)
}

// Cleanup bulk-downgrades expired Pro subscriptions. Normally the scheduler's
// job; exposed so operators can force a pass.
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	n, err := h.users.CleanupExpired(r.Context())
	if err != nil {
		HandleError(w, ErrInternalServer)
		return
	}
	JSON(w, http.StatusOK, map[string]int64{"downgraded": n})
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		HandleError(w, NewBadRequestError("invalid user id"))
		return 0, false
	}
	return id, true
}

// decode reads an optional JSON body; an empty body leaves the zero value.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		HandleError(w, ErrBadRequest)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		HandleError(w, NewBadRequestError("invalid request body"))
		return false
	}
	return true
}

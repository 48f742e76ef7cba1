// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the registration service.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/seminar-slots/internal/apperr"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/model"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/service"
)

// SlotHandler holds all HTTP handlers for the seminar slot API.
type SlotHandler struct {
	svc    *service.RegistrationService
	logger *slog.Logger
}

// NewSlotHandler constructs a SlotHandler.
func NewSlotHandler(svc *service.RegistrationService, logger *slog.Logger) *SlotHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlotHandler{svc: svc, logger: logger}
}

// Routes mounts the API on r.
func (h *SlotHandler) Routes(r chi.Router) {
	r.Get("/health", HealthCheck)

	r.Route("/slots", func(r chi.Router) {
		r.Post("/", h.CreateSlot)
		r.Get("/", h.ListSlots)
		r.Route("/{slotID}", func(r chi.Router) {
			r.Get("/", h.GetSlot)
			r.Post("/registrations", h.Register)
			r.Get("/registrations", h.ListRegistrations)
			r.Delete("/registrations/{presenterID}", h.Cancel)
			r.Post("/waiting-list", h.JoinWaitingList)
			r.Get("/waiting-list", h.ListWaitingList)
			r.Delete("/waiting-list/{presenterID}", h.LeaveWaitingList)
		})
	})

	r.Route("/approvals/{token}", func(r chi.Router) {
		r.Get("/approve", h.Approve)
		r.Post("/approve", h.Approve)
		r.Get("/decline", h.Decline)
		r.Post("/decline", h.Decline)
	})
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg, Code: code})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// StatusOf maps an error kind to an HTTP status.
func StatusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		switch {
		case errors.Is(err, apperr.ErrSlotFull),
			errors.Is(err, apperr.ErrAlreadyRegistered),
			errors.Is(err, apperr.ErrAlreadyQueued):
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case apperr.KindCapacityConflict:
		return http.StatusConflict
	case apperr.KindToken:
		switch {
		case errors.Is(err, apperr.ErrTokenNotFound):
			return http.StatusNotFound
		case errors.Is(err, apperr.ErrTokenAlreadyUsed):
			return http.StatusConflict
		}
		return http.StatusGone
	case apperr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error. Internal errors are logged and their
// message is not exposed.
func (h *SlotHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestID(r),
			"error", err,
		)
		writeError(w, status, "internal", "internal server error")
		return
	}
	writeError(w, status, apperr.CodeOf(err), err.Error())
}

func badBody(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body: "+err.Error())
}

// ─── Slots ────────────────────────────────────────────────────────────────────

// CreateSlot handles POST /slots
func (h *SlotHandler) CreateSlot(w http.ResponseWriter, r *http.Request) {
	var req model.CreateSlotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}

	slot, err := h.svc.CreateSlot(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, slot)
}

// ListSlots handles GET /slots
// Returns every slot with its derived state.
func (h *SlotHandler) ListSlots(w http.ResponseWriter, r *http.Request) {
	slots, err := h.svc.ListSlots(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if slots == nil {
		slots = []model.SlotView{}
	}

	writeJSON(w, http.StatusOK, slots)
}

// GetSlot handles GET /slots/{slotID}
func (h *SlotHandler) GetSlot(w http.ResponseWriter, r *http.Request) {
	slot, err := h.svc.GetSlot(r.Context(), chi.URLParam(r, "slotID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, slot)
}

// ─── Registrations ────────────────────────────────────────────────────────────

// Register handles POST /slots/{slotID}/registrations
// Creates a PENDING registration and e-mails the supervisor.
func (h *SlotHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}

	reg, err := h.svc.Register(r.Context(), chi.URLParam(r, "slotID"), req.PresenterID, req.Details)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, reg)
}

// ListRegistrations handles GET /slots/{slotID}/registrations
func (h *SlotHandler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	regs, err := h.svc.ListRegistrations(r.Context(), chi.URLParam(r, "slotID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if regs == nil {
		regs = []model.Registration{}
	}

	writeJSON(w, http.StatusOK, regs)
}

// Cancel handles DELETE /slots/{slotID}/registrations/{presenterID}
func (h *SlotHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Cancel(r.Context(), chi.URLParam(r, "slotID"), chi.URLParam(r, "presenterID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ─── Waiting list ─────────────────────────────────────────────────────────────

// JoinWaitingList handles POST /slots/{slotID}/waiting-list
func (h *SlotHandler) JoinWaitingList(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}

	entry, err := h.svc.JoinWaitingList(r.Context(), chi.URLParam(r, "slotID"), req.PresenterID, req.Details)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

// ListWaitingList handles GET /slots/{slotID}/waiting-list
func (h *SlotHandler) ListWaitingList(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.ListWaitingList(r.Context(), chi.URLParam(r, "slotID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if entries == nil {
		entries = []model.WaitingListEntry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

// LeaveWaitingList handles DELETE /slots/{slotID}/waiting-list/{presenterID}
func (h *SlotHandler) LeaveWaitingList(w http.ResponseWriter, r *http.Request) {
	err := h.svc.LeaveWaitingList(r.Context(), chi.URLParam(r, "slotID"), chi.URLParam(r, "presenterID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ─── Approvals ────────────────────────────────────────────────────────────────

// Approve handles GET|POST /approvals/{token}/approve
// GET is what a supervisor's mail client follows.
func (h *SlotHandler) Approve(w http.ResponseWriter, r *http.Request) {
	reg, err := h.svc.Approve(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, reg)
}

// Decline handles GET|POST /approvals/{token}/decline
// The reason comes from the JSON body on POST or the "reason" query
// parameter.
func (h *SlotHandler) Decline(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if r.Method == http.MethodPost && r.ContentLength != 0 {
		var req model.DeclineRequest
		if err := decodeJSON(w, r, &req); err != nil {
			badBody(w, err)
			return
		}
		if req.Reason != "" {
			reason = req.Reason
		}
	}

	reg, err := h.svc.Decline(r.Context(), chi.URLParam(r, "token"), reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, reg)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

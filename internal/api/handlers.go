package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/the16thpythonist/lukas-chat-bear-sub001/internal/model"
	"github.com/the16thpythonist/lukas-chat-bear-sub001/internal/service"
)

type Handler struct {
	events  *service.EventService
	unified *service.UnifiedViewService
	log     *slog.Logger
}

func NewHandler(events *service.EventService, unified *service.UnifiedViewService, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{events: events, unified: unified, log: log}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type createEventRequest struct {
	ScheduledTime  string `json:"scheduledTime"`
	TimeExpression string `json:"timeExpression"`
	ChannelID      string `json:"channelId"`
	ChannelName    string `json:"channelName"`
	Message        string `json:"message"`
	CreatedByID    string `json:"createdByUserId"`
	CreatedByName  string `json:"createdByUserName"`
}

func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	params := service.CreateEventParams{
		ChannelID:         req.ChannelID,
		ChannelName:       req.ChannelName,
		Message:           req.Message,
		CreatedByUserID:   req.CreatedByID,
		CreatedByUserName: req.CreatedByName,
	}

	var (
		ev  *model.ScheduledEvent
		err error
	)
	switch {
	case req.ScheduledTime != "":
		at, parseErr := time.Parse(time.RFC3339, req.ScheduledTime)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "scheduledTime must be RFC 3339")
			return
		}
		params.ScheduledTime = at
		ev, err = h.events.CreateEvent(r.Context(), params)
	case req.TimeExpression != "":
		ev, err = h.events.CreateFromNaturalLanguage(r.Context(), req.TimeExpression, params)
	default:
		writeError(w, http.StatusBadRequest, "scheduledTime or timeExpression is required")
		return
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, ev)
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	status, ok := parseStatus(r.URL.Query().Get("status"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	var (
		items []model.ScheduledEvent
		err   error
	)
	if creator := r.URL.Query().Get("creator"); creator != "" {
		items, err = h.events.ListByCreator(r.Context(), creator)
	} else {
		items, err = h.events.ListEvents(r.Context(), status, limit, offset)
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []model.ScheduledEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Stats reports how many events sit in each lifecycle state.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	counts := map[string]int64{}
	for _, st := range []model.Status{model.Pending, model.Completed, model.Cancelled, model.Failed} {
		n, err := h.events.CountByStatus(r.Context(), st)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		counts[string(st)] = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": counts})
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r)
	if !ok {
		return
	}

	ev, err := h.events.GetEvent(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ev)
}

type updateEventRequest struct {
	ScheduledTime  *string `json:"scheduledTime"`
	TimeExpression *string `json:"timeExpression"`
	Message        *string `json:"message"`
}

func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r)
	if !ok {
		return
	}

	var req updateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var newTime *time.Time
	switch {
	case req.ScheduledTime != nil:
		at, err := time.Parse(time.RFC3339, *req.ScheduledTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "scheduledTime must be RFC 3339")
			return
		}
		newTime = &at
	case req.TimeExpression != nil:
		at, err := h.events.ResolveTime(*req.TimeExpression)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		newTime = &at
	}

	ev, err := h.events.UpdateEvent(r.Context(), id, newTime, req.Message)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ev)
}

func (h *Handler) CancelEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r)
	if !ok {
		return
	}

	if err := h.events.CancelEvent(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
}

func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r)
	if !ok {
		return
	}

	if err := h.events.DeleteEvent(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)

	status, ok := parseStatus(r.URL.Query().Get("status"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	entries, err := h.unified.GetAllScheduledEvents(r.Context(), status, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.ScheduleEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (h *Handler) CancelRecurringTask(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	n, err := h.unified.CancelRecurringTask(r.Context(), name)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"cancelled": true, "runsCancelled": n})
}

func eventID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return 0, false
	}
	return id, true
}

func parseStatus(raw string) (*model.Status, bool) {
	if raw == "" {
		return nil, true
	}
	s := model.Status(raw)
	if !s.Valid() {
		return nil, false
	}
	return &s, true
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// writeServiceError translates service failures into status codes.
// Errors the service did not classify stay server-side: the body
// carries a generic message and the cause goes to the log only.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrNotEditable),
		errors.Is(err, service.ErrNotCancellable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrPastScheduledTime),
		errors.Is(err, service.ErrMissingChannel),
		errors.Is(err, service.ErrMissingMessage),
		errors.Is(err, service.ErrUnparsableTime),
		errors.Is(err, service.ErrNothingToUpdate),
		errors.Is(err, service.ErrUnknownRecurringTask):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

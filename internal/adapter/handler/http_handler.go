package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/istrom/siteinv/internal/core/domain"
	"github.com/istrom/siteinv/internal/core/service"
)

type HTTPHandler struct {
	requests      *service.RequestService
	notifications *service.NotificationService
}

func NewHTTPHandler(requests *service.RequestService, notifications *service.NotificationService) *HTTPHandler {
	return &HTTPHandler{requests: requests, notifications: notifications}
}

func (h *HTTPHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/requests", h.SubmitRequest)
		r.Get("/requests", h.ListRequests)
		r.Post("/requests/{id}/status", h.TransitionRequest)
		r.Delete("/requests/{id}", h.DeleteRequest)

		r.Post("/items", h.CreateItem)
		r.Get("/items", h.ListItems)
		r.Put("/items/{id}/quantity", h.ReplaceItemQuantity)

		r.Get("/sites", h.ListSites)
		r.Post("/cache/flush", h.FlushCache)

		r.Get("/notifications", h.ListNotifications)
		r.Get("/notifications/unread-count", h.UnreadCount)
		r.Post("/notifications/{id}/read", h.MarkRead)
		r.Post("/notifications/read-all", h.MarkAllRead)
		r.Delete("/notifications/{id}", h.DeleteNotification)
		r.Delete("/notifications", h.DeleteAllNotifications)
	})
	return r
}

type submitRequestBody struct {
	ItemID  string          `json:"item_id"`
	ActorID string          `json:"actor_id"`
	Qty     decimal.Decimal `json:"qty"`
	Note    string          `json:"note"`
}

func (h *HTTPHandler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var body submitRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.ItemID == "" || body.ActorID == "" {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	id, err := h.requests.Submit(r.Context(), body.ItemID, body.ActorID, body.Qty, body.Note)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"request_id": id})
}

type transitionBody struct {
	Target  string `json:"target"`
	ActorID string `json:"actor_id"`
}

func (h *HTTPHandler) TransitionRequest(w http.ResponseWriter, r *http.Request) {
	var body transitionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Target == "" || body.ActorID == "" {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	err := h.requests.Transition(r.Context(), chi.URLParam(r, "id"), domain.RequestStatus(body.Target), body.ActorID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *HTTPHandler) DeleteRequest(w http.ResponseWriter, r *http.Request) {
	actorID := r.URL.Query().Get("actor_id")
	if actorID == "" {
		writeError(w, http.StatusBadRequest, "actor_id is required")
		return
	}
	if err := h.requests.Delete(r.Context(), chi.URLParam(r, "id"), actorID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *HTTPHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	actorID := q.Get("actor_id")
	if actorID == "" {
		writeError(w, http.StatusBadRequest, "actor_id is required")
		return
	}
	limit, offset := paging(q.Get("limit"), q.Get("offset"))

	out, err := h.requests.ListRequests(r.Context(), actorID, domain.RequestStatus(q.Get("status")), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type createItemBody struct {
	ActorID      string          `json:"actor_id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Unit         string          `json:"unit"`
	Qty          decimal.Decimal `json:"qty"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	Budget       string          `json:"budget"`
	Section      string          `json:"section"`
	BuildingType string          `json:"building_type"`
	ProjectSite  string          `json:"project_site"`
}

func (h *HTTPHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var body createItemBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.ActorID == "" || body.Name == "" || body.ProjectSite == "" {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	id, err := h.requests.CreateItem(r.Context(), domain.Item{
		Code:         body.Code,
		Name:         body.Name,
		Category:     domain.ItemCategory(body.Category),
		Unit:         body.Unit,
		Qty:          body.Qty,
		UnitCost:     body.UnitCost,
		Budget:       body.Budget,
		Section:      body.Section,
		BuildingType: body.BuildingType,
		ProjectSite:  body.ProjectSite,
	}, body.ActorID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"item_id": id})
}

func (h *HTTPHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	actorID := q.Get("actor_id")
	if actorID == "" {
		writeError(w, http.StatusBadRequest, "actor_id is required")
		return
	}
	limit, offset := paging(q.Get("limit"), q.Get("offset"))

	out, err := h.requests.ListItems(r.Context(), actorID, domain.ItemCategory(q.Get("category")), q.Get("search"), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type replaceQtyBody struct {
	ActorID string          `json:"actor_id"`
	Qty     decimal.Decimal `json:"qty"`
}

func (h *HTTPHandler) ReplaceItemQuantity(w http.ResponseWriter, r *http.Request) {
	var body replaceQtyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.ActorID == "" {
		writeError(w, http.StatusBadRequest, "actor_id is required")
		return
	}
	if err := h.requests.ReplaceItemQuantity(r.Context(), chi.URLParam(r, "id"), body.Qty, body.ActorID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *HTTPHandler) ListSites(w http.ResponseWriter, r *http.Request) {
	out, err := h.requests.ListSites(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) FlushCache(w http.ResponseWriter, r *http.Request) {
	actorID := r.URL.Query().Get("actor_id")
	if actorID == "" {
		writeError(w, http.StatusBadRequest, "actor_id is required")
		return
	}
	if err := h.requests.FlushCache(r.Context(), actorID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *HTTPHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	actorID := q.Get("actor_id")
	if actorID == "" {
		writeError(w, http.StatusBadRequest, "actor_id is required")
		return
	}
	limit, offset := paging(q.Get("limit"), q.Get("offset"))
	unreadOnly := q.Get("unread_only") == "true"

	out, err := h.notifications.List(r.Context(), actorID, unreadOnly, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	actorID := r.URL.Query().Get("actor_id")
	if actorID == "" {
		writeError(w, http.StatusBadRequest, "actor_id is required")
		return
	}
	count, err := h.notifications.UnreadCount(r.Context(), actorID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": count})
}

func (h *HTTPHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.notifications.MarkRead(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *HTTPHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	actorID := r.URL.Query().Get("actor_id")
	if actorID == "" {
		writeError(w, http.StatusBadRequest, "actor_id is required")
		return
	}
	updated, err := h.notifications.MarkAllRead(r.Context(), actorID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

func (h *HTTPHandler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	if err := h.notifications.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *HTTPHandler) DeleteAllNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	actorID := q.Get("actor_id")
	if actorID == "" {
		writeError(w, http.StatusBadRequest, "actor_id is required")
		return
	}
	deleted, err := h.notifications.DeleteAll(r.Context(), actorID, q.Get("everyone") == "true")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		writeError(w, http.StatusConflict, "not enough stock")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusUnprocessableEntity, "invalid status transition")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "admin access required")
	case errors.Is(err, service.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, "quantity must be positive")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func paging(limitStr, offsetStr string) (int, int) {
	limit, _ := strconv.Atoi(limitStr)
	offset, _ := strconv.Atoi(offsetStr)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

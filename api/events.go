package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/RestDB/outhook"
	"github.com/RestDB/outhook/event"
	"github.com/RestDB/outhook/id"
)

type triggerEventRequest struct {
	Data           json.RawMessage `json:"data"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type triggerEventResponse struct {
	*event.Event
	Deliveries int `json:"deliveries"`
}

func (h *Handler) triggerEvent(w http.ResponseWriter, r *http.Request) {
	eventType := r.PathValue("type")

	var req triggerEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var opts []outhook.TriggerOption
	if req.IdempotencyKey != "" {
		opts = append(opts, outhook.WithIdempotencyKey(req.IdempotencyKey))
	}

	evt, err := h.hook.Trigger(r.Context(), eventType, req.Data, opts...)
	if err != nil {
		switch {
		case errors.Is(err, outhook.ErrEmptyEventType):
			writeError(w, http.StatusBadRequest, "event type is required")
		case errors.Is(err, outhook.ErrPayloadValidationFailed):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	deliveries, listErr := h.hook.Store().ListByEvent(r.Context(), evt.ID)
	if listErr != nil {
		writeError(w, http.StatusInternalServerError, listErr.Error())
		return
	}

	writeJSON(w, http.StatusCreated, triggerEventResponse{
		Event:      evt,
		Deliveries: len(deliveries),
	})
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	opts := event.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
		Type:   queryParam(r, "type"),
	}

	events, err := h.hook.Store().ListEvents(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	evtID, err := id.ParseEventID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event ID")
		return
	}

	evt, getErr := h.hook.Store().GetEvent(r.Context(), evtID)
	if getErr != nil {
		if errors.Is(getErr, outhook.ErrEventNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, evt)
}

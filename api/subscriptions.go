package api

import (
	"errors"
	"net/http"

	"github.com/RestDB/outhook"
	"github.com/RestDB/outhook/id"
	"github.com/RestDB/outhook/subscription"
)

type createSubscriptionRequest struct {
	URL       string            `json:"url"`
	Events    []string          `json:"events"`
	Mode      string            `json:"verification_mode,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	RateLimit int               `json:"rate_limit,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// createSubscriptionResponse carries the signing secret. It is returned
// exactly once, at creation and secret rotation.
type createSubscriptionResponse struct {
	*subscription.Subscription
	Secret string `json:"secret"`
}

func (h *Handler) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	input := subscription.Input{
		URL:       req.URL,
		Events:    req.Events,
		Mode:      subscription.Mode(req.Mode),
		Headers:   req.Headers,
		RateLimit: req.RateLimit,
		Metadata:  req.Metadata,
	}

	sub, err := h.hook.CreateSubscription(r.Context(), input)
	if err != nil {
		var verr *subscription.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, createSubscriptionResponse{
		Subscription: sub,
		Secret:       sub.Secret,
	})
}

type listSubscriptionsResponse struct {
	Data  []*subscription.Subscription `json:"data"`
	Count int                          `json:"count"`
}

func (h *Handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	opts := subscription.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
		Status: subscription.Status(queryParam(r, "status")),
		Event:  queryParam(r, "event"),
	}

	subs, err := h.hook.Subscriptions().List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, listSubscriptionsResponse{
		Data:  subs,
		Count: len(subs),
	})
}

func (h *Handler) getSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	sub, getErr := h.hook.Subscriptions().Get(r.Context(), subID)
	if getErr != nil {
		if errors.Is(getErr, outhook.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) updateSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	var patch subscription.Patch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, updateErr := h.hook.Subscriptions().Update(r.Context(), subID, patch)
	if updateErr != nil {
		if errors.Is(updateErr, outhook.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		var verr *subscription.ValidationError
		if errors.As(updateErr, &verr) {
			writeError(w, http.StatusBadRequest, updateErr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, updateErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	if deleteErr := h.hook.Subscriptions().Delete(r.Context(), subID); deleteErr != nil {
		if errors.Is(deleteErr, outhook.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, deleteErr.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) retrySubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	sub, retryErr := h.hook.RetrySubscription(r.Context(), subID)
	if retryErr != nil {
		if errors.Is(retryErr, outhook.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, retryErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) verifySubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	sub, verifyErr := h.hook.VerifySubscription(r.Context(), subID)
	if verifyErr != nil {
		if errors.Is(verifyErr, outhook.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		// Handshake failure is not a server error; the caller sees the
		// recorded status and failure detail.
		writeJSON(w, http.StatusUnprocessableEntity, sub)
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) rotateSecret(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	newSecret, rotateErr := h.hook.Subscriptions().RotateSecret(r.Context(), subID)
	if rotateErr != nil {
		if errors.Is(rotateErr, outhook.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, rotateErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"secret": newSecret})
}

func (h *Handler) subscriptionStats(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	stats, statsErr := h.hook.Subscriptions().Stats(r.Context(), subID)
	if statsErr != nil {
		if errors.Is(statsErr, outhook.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, statsErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

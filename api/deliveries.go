package api

import (
	"net/http"

	"github.com/RestDB/outhook/delivery"
	"github.com/RestDB/outhook/id"
)

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	opts := delivery.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}

	stateStr := queryParam(r, "state")
	if stateStr != "" {
		state := delivery.State(stateStr)
		opts.State = &state
	}

	deliveries, listErr := h.hook.Store().ListBySubscription(r.Context(), subID, opts)
	if listErr != nil {
		writeError(w, http.StatusInternalServerError, listErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, deliveries)
}

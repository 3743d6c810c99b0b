package api

import "net/http"

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("POST /v1/events", h.CreateEvent)
	mux.HandleFunc("GET /v1/events", h.ListEvents)
	mux.HandleFunc("GET /v1/events/{id}", h.GetEvent)
	mux.HandleFunc("PATCH /v1/events/{id}", h.UpdateEvent)
	mux.HandleFunc("POST /v1/events/{id}/cancel", h.CancelEvent)
	mux.HandleFunc("DELETE /v1/events/{id}", h.DeleteEvent)
	mux.HandleFunc("GET /v1/stats", h.Stats)

	mux.HandleFunc("GET /v1/schedule", h.GetSchedule)
	mux.HandleFunc("POST /v1/schedule/recurring/{name}/cancel", h.CancelRecurringTask)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("chat-bear scheduler"))
	})

	return mux
}

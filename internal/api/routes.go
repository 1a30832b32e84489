package api

import "net/http"

// setupRoutes configures the HTTP route table.
func setupRoutes(jobs *JobsHandler, chat *ChatHandler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/jobs", jobs.Create) // POST - create+execute a crawl job
	mux.HandleFunc("/api/jobs/", handleJobSubroutes(jobs))

	mux.HandleFunc("/api/chat", chat.Chat)          // POST - single-shot RAG answer
	mux.HandleFunc("/api/chat/stream", chat.Stream) // GET (websocket) - streamed RAG answer

	mux.HandleFunc("/api/health", healthHandler)

	return mux
}

// handleJobSubroutes dispatches /api/jobs/{id}, /api/jobs/{id}/cancel, and
// /api/jobs/{id}/stream by method and path suffix.
func handleJobSubroutes(jobs *JobsHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		if len(path) >= len("/stream") && path[len(path)-len("/stream"):] == "/stream" {
			jobs.Stream(w, r)
			return
		}

		if r.Method == http.MethodPost && len(path) >= len("/cancel") && path[len(path)-len("/cancel"):] == "/cancel" {
			jobs.Cancel(w, r)
			return
		}

		if r.Method == http.MethodGet {
			jobs.Get(w, r)
			return
		}

		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

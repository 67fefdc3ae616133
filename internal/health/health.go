package health

import (
	"encoding/json"
	"net/http"

	"github.com/permitops/gitgovern/pkg/request"
)

func Handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Routes serves liveness plus a readiness view over the orchestrator
// registry: ready once at least one repository is governed.
func Routes(registry *request.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", Handler)
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		repos := registry.Repos()

		w.Header().Set("Content-Type", "application/json")
		if len(repos) == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":       readiness(repos),
			"repositories": repos,
		})
	})

	return mux
}

func readiness(repos []string) string {
	if len(repos) == 0 {
		return "empty"
	}

	return "ready"
}

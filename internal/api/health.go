package api

import "net/http"

type healthResponse struct {
	Status   string            `json:"status"`
	Database string            `json:"database"`
	Breakers map[string]string `json:"breakers,omitempty"`
	Message  string            `json:"message,omitempty"`
}

// handleHealthz checks SQLite connectivity and the CircuitBreaker
// registry's aggregate state.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", Database: "ok"}

	if s.db != nil {
		if err := s.db.IsHealthy(); err != nil {
			resp.Status = "unhealthy"
			resp.Database = "error"
			resp.Message = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}

	if s.breakers != nil {
		snapshot := s.breakers.Snapshot()
		resp.Breakers = make(map[string]string, len(snapshot))
		for dependency, status := range snapshot {
			resp.Breakers[dependency] = string(status.State)
			if status.State != "CLOSED" {
				resp.Status = "degraded"
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

package api

import "net/http"

// healthResponse mirrors the engine probe. Path points at the Wan2GP
// installation the server was configured with.
type healthResponse struct {
	Status  string `json:"status"`
	Path    string `json:"wan2gp_path,omitempty"`
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.prober.Probe()
	if !h.Healthy {
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status: "unhealthy",
			Path:   h.Path,
			Error:  h.Err,
		})
		return
	}

	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:  "healthy",
		Path:    h.Path,
		Version: apiVersion,
	})
}

package api

import (
	"net/http"

	"github.com/seantiz/kiln/internal/catalog"
)

type modelsResponse struct {
	Models []catalog.Entry `json:"models"`
	Count  int             `json:"count"`
}

type lorasResponse struct {
	Loras []catalog.Entry `json:"loras"`
	Count int             `json:"count"`
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models := catalog.Models(s.installDir)
	s.writeJSON(w, http.StatusOK, modelsResponse{Models: models, Count: len(models)})
}

func (s *Server) handleListLoras(w http.ResponseWriter, r *http.Request) {
	loras := catalog.Loras(s.installDir)
	s.writeJSON(w, http.StatusOK, lorasResponse{Loras: loras, Count: len(loras)})
}

package api

import (
	"net/http"

	"github.com/aqi-agent/internal/auth"
	"github.com/aqi-agent/internal/logging"
)

// handleBalance handles GET /api/tokens/balance
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	ctx, cancel := s.requestContext(r)
	defer cancel()

	balance, err := s.agent.Balance(ctx, userID)
	if err != nil {
		respondAppError(w, logging.FromContext(r.Context()), err)
		return
	}
	respondJSON(w, http.StatusOK, BalanceResponse{Balance: balance})
}

// handleGrants handles GET /api/tokens/grants
func (s *Server) handleGrants(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	ctx, cancel := s.requestContext(r)
	defer cancel()

	grants, err := s.agent.Grants(ctx, userID)
	if err != nil {
		respondAppError(w, logging.FromContext(r.Context()), err)
		return
	}
	respondJSON(w, http.StatusOK, GrantsResponse{Grants: grants})
}

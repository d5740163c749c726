package httpapi

import (
	"net/http"

	"github.com/ppdb-id/ppdb-backend/internal/apperr"
	"github.com/ppdb-id/ppdb-backend/internal/model"
)

/* ------------------------------- verification ------------------------------ */

// queryPeriodID reads the required period_id query parameter.
func queryPeriodID(r *http.Request) (int64, error) {
	id, err := parseID(r.URL.Query().Get("period_id"))
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, apperr.BadRequest("period_id is required")
	}
	return id, nil
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	periodID, err := queryPeriodID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	page, pageSize := pagination(r)
	regs, total, err := s.verification.ListPending(r.Context(), scopeFrom(r), periodID, page, pageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	writePaged(w, toRegistrationViews(regs), page, pageSize, total)
}

func (s *Server) handleVerifyRegistration(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Notes string `json:"notes"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	reg, err := s.verification.VerifyRegistration(r.Context(), scopeFrom(r), id, body.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRegistrationView(reg))
}

func (s *Server) handleRejectRegistration(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	reg, err := s.verification.RejectRegistration(r.Context(), scopeFrom(r), id, body.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRegistrationView(reg))
}

func (s *Server) handleVerifyDocument(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	doc, err := s.verification.VerifyDocument(r.Context(), scopeFrom(r), id,
		model.VerificationStatus(body.Status), body.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentView(doc))
}

func (s *Server) handleVerificationStats(w http.ResponseWriter, r *http.Request) {
	periodID, err := queryPeriodID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.verification.PeriodStats(r.Context(), scopeFrom(r), periodID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

/* --------------------------------- selection ------------------------------- */

func (s *Server) handleCalculateScores(w http.ResponseWriter, r *http.Request) {
	periodID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	n, err := s.selection.CalculateScores(r.Context(), scopeFrom(r), periodID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"scored": n})
}

func (s *Server) handleUpdateRankings(w http.ResponseWriter, r *http.Request) {
	periodID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.selection.UpdateRankings(r.Context(), scopeFrom(r), periodID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rankings updated"})
}

func (s *Server) handleRunSelection(w http.ResponseWriter, r *http.Request) {
	periodID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	force := r.URL.Query().Get("force") == "true"
	results, err := s.selection.RunSelection(r.Context(), scopeFrom(r), periodID, force)
	if err != nil {
		writeError(w, err)
		return
	}
	accepted, rejected := 0, 0
	for _, outcomes := range results {
		for _, o := range outcomes {
			if o.Accepted {
				accepted++
			} else {
				rejected++
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"accepted": accepted, "rejected": rejected})
}

func (s *Server) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	periodID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.selection.Announce(r.Context(), scopeFrom(r), periodID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "announced"})
}

func (s *Server) handleSelectionSummary(w http.ResponseWriter, r *http.Request) {
	periodID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	summary, err := s.selection.Summary(r.Context(), scopeFrom(r), periodID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": summary})
}

func (s *Server) handleSelectionStats(w http.ResponseWriter, r *http.Request) {
	periodID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.selection.Stats(r.Context(), scopeFrom(r), periodID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": stats})
}

type pathRankingView struct {
	PathID        int64              `json:"path_id"`
	PathType      string             `json:"path_type"`
	Name          string             `json:"name"`
	Registrations []registrationView `json:"registrations"`
}

func (s *Server) handleRankings(w http.ResponseWriter, r *http.Request) {
	periodID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	rankings, err := s.selection.PeriodRankings(r.Context(), scopeFrom(r), periodID)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]pathRankingView, len(rankings))
	for i, pr := range rankings {
		views[i] = pathRankingView{
			PathID: pr.PathID, PathType: string(pr.PathType), Name: pr.Name,
			Registrations: toRegistrationViews(pr.Registrations),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": views})
}

// handleCheckResult is the anonymous result lookup.
func (s *Server) handleCheckResult(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	number, nisn := q.Get("registration_number"), q.Get("nisn")
	if number == "" || nisn == "" {
		writeError(w, apperr.BadRequest("registration_number and nisn are required"))
		return
	}
	result, err := s.selection.CheckResult(r.Context(), number, nisn)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

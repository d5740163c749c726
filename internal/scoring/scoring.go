// Package scoring computes the deterministic selection score for a
// registration. It is pure: all inputs are passed in, nothing is loaded, so
// the same registration always scores the same.
package scoring

import (
	"math"

	"github.com/ppdb-id/ppdb-backend/internal/model"
)

// Score computes the selection score for one registration on its path.
// docs is the registration's live document set, consumed only by the
// perpindahan_tugas rule. The result is clamped to [0, 100] and rounded to
// four decimals.
func Score(reg *model.Registration, docs []model.Document, path *model.RegistrationPath) float64 {
	var raw float64
	switch path.PathType {
	case model.PathZonasi:
		raw = zonasi(reg.PathData, path.ScoringConfig)
	case model.PathPrestasi:
		raw = prestasi(reg.PathData, path.ScoringConfig)
	case model.PathAfirmasi:
		raw = afirmasi(reg.PathData, path.ScoringConfig)
	case model.PathPerpindahanTugas:
		raw = perpindahanTugas(docs)
	}
	return round4(clamp(raw))
}

// zonasi scores proximity linearly: full marks at the school gate, zero at
// max_distance_km and beyond, scaled by the configured weight.
func zonasi(d model.PathData, c model.ScoringConfig) float64 {
	if d.DistanceKm == nil || c.MaxDistanceKm <= 0 {
		return 0
	}
	frac := 1 - *d.DistanceKm/c.MaxDistanceKm
	if frac < 0 {
		frac = 0
	}
	return frac * 100 * c.Weight
}

// prestasi is a weighted blend of the report-card average and achievement
// points, with achievement capped at 100 before weighting.
func prestasi(d model.PathData, c model.ScoringConfig) float64 {
	var rapor, achievement float64
	if d.RaporAverage != nil {
		rapor = *d.RaporAverage
	}
	if d.AchievementPoints != nil {
		achievement = math.Min(100, *d.AchievementPoints)
	}
	return c.RaporWeight*rapor + c.AchievementWeight*achievement
}

// afirmasi starts from a base of 60 with bonuses for each claimed criterion
// the path has enabled: 30 for KIP, 10 for disability.
func afirmasi(d model.PathData, c model.ScoringConfig) float64 {
	score := 60.0
	if d.KIP != nil && *d.KIP && c.HasCriterion(model.CriterionKIP) {
		score += 30
	}
	if d.Disabled != nil && *d.Disabled && c.HasCriterion(model.CriterionDisabled) {
		score += 10
	}
	return score
}

// perpindahanTugas scores from the transfer letter's verification state:
// approved 100, pending 50, anything else 0.
func perpindahanTugas(docs []model.Document) float64 {
	for _, d := range docs {
		if d.DocumentType != model.DocSuratPindah {
			continue
		}
		switch d.VerificationStatus {
		case model.VerificationApproved:
			return 100
		case model.VerificationPending:
			return 50
		}
		return 0
	}
	return 0
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// Tolerance is the comparison slack for treating two scores as tied.
const Tolerance = 1e-6

// Equal reports whether two scores are indistinguishable for ranking.
func Equal(a, b float64) bool {
	return math.Abs(a-b) <= Tolerance
}

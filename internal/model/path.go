package model

import (
	"encoding/json"
	"math"

	"github.com/ppdb-id/ppdb-backend/internal/apperr"
)

// PathType is the closed set of admission paths. Adding a type means
// touching this file (config + data validation) and the scoring dispatch.
type PathType string

const (
	PathZonasi           PathType = "zonasi"
	PathPrestasi         PathType = "prestasi"
	PathAfirmasi         PathType = "afirmasi"
	PathPerpindahanTugas PathType = "perpindahan_tugas"
)

func (p PathType) Valid() bool {
	switch p {
	case PathZonasi, PathPrestasi, PathAfirmasi, PathPerpindahanTugas:
		return true
	}
	return false
}

// Afirmasi bonus criteria names accepted in scoring_config.criteria.
const (
	CriterionKIP      = "kip"
	CriterionDisabled = "disabled"
)

// ScoringConfig is the per-path scoring parameter record. Which fields are
// meaningful depends on the owning path's type; Validate enforces the shape.
type ScoringConfig struct {
	// zonasi
	MaxDistanceKm float64 `json:"max_distance_km,omitempty"`
	Weight        float64 `json:"weight,omitempty"`
	// prestasi
	RaporWeight       float64 `json:"rapor_weight,omitempty"`
	AchievementWeight float64 `json:"achievement_weight,omitempty"`
	// afirmasi; empty means all criteria apply
	Criteria []string `json:"criteria,omitempty"`
}

func ParseScoringConfig(pt PathType, raw []byte) (ScoringConfig, error) {
	var c ScoringConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &c); err != nil {
			return ScoringConfig{}, apperr.Validation("scoring_config is not valid JSON")
		}
	}
	if err := c.Validate(pt); err != nil {
		return ScoringConfig{}, err
	}
	return c, nil
}

func (c ScoringConfig) Validate(pt PathType) error {
	switch pt {
	case PathZonasi:
		if c.MaxDistanceKm <= 0 {
			return apperr.Validation("scoring_config invalid for zonasi",
				apperr.FieldError{Field: "max_distance_km", Message: "must be greater than zero"})
		}
		if c.Weight <= 0 || c.Weight > 1 {
			return apperr.Validation("scoring_config invalid for zonasi",
				apperr.FieldError{Field: "weight", Message: "must be in (0, 1]"})
		}
	case PathPrestasi:
		if c.RaporWeight < 0 || c.AchievementWeight < 0 {
			return apperr.Validation("scoring_config invalid for prestasi",
				apperr.FieldError{Field: "rapor_weight", Message: "weights must be non-negative"})
		}
		if math.Abs(c.RaporWeight+c.AchievementWeight-1) > 1e-9 {
			return apperr.Validation("scoring_config invalid for prestasi",
				apperr.FieldError{Field: "rapor_weight", Message: "rapor_weight + achievement_weight must equal 1"})
		}
	case PathAfirmasi:
		for _, crit := range c.Criteria {
			if crit != CriterionKIP && crit != CriterionDisabled {
				return apperr.Validation("scoring_config invalid for afirmasi",
					apperr.FieldError{Field: "criteria", Message: "unknown criterion: " + crit})
			}
		}
	case PathPerpindahanTugas:
		// Scored from document completeness; no parameters.
	default:
		return apperr.Validation("unknown path type")
	}
	return nil
}

// HasCriterion reports whether an afirmasi criterion is enabled. An empty
// criteria list enables all of them.
func (c ScoringConfig) HasCriterion(name string) bool {
	if len(c.Criteria) == 0 {
		return true
	}
	for _, crit := range c.Criteria {
		if crit == name {
			return true
		}
	}
	return false
}

// PathData is the free-form structured record a parent supplies for the
// chosen path. Scoring consumes it; Validate checks the shape against the
// target path type without requiring optional fields.
type PathData struct {
	// zonasi
	DistanceKm *float64 `json:"distance_km,omitempty"`
	// prestasi
	RaporAverage      *float64 `json:"rapor_average,omitempty"`
	AchievementPoints *float64 `json:"achievement_points,omitempty"`
	// afirmasi
	KIP      *bool `json:"kip,omitempty"`
	Disabled *bool `json:"disabled,omitempty"`
}

func ParsePathData(pt PathType, raw []byte) (PathData, error) {
	var d PathData
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &d); err != nil {
			return PathData{}, apperr.Validation("path_data is not valid JSON")
		}
	}
	if err := d.Validate(pt); err != nil {
		return PathData{}, err
	}
	return d, nil
}

func (d PathData) Validate(pt PathType) error {
	switch pt {
	case PathZonasi:
		if d.DistanceKm != nil && *d.DistanceKm < 0 {
			return apperr.Validation("path_data invalid for zonasi",
				apperr.FieldError{Field: "distance_km", Message: "must not be negative"})
		}
	case PathPrestasi:
		if d.RaporAverage != nil && (*d.RaporAverage < 0 || *d.RaporAverage > 100) {
			return apperr.Validation("path_data invalid for prestasi",
				apperr.FieldError{Field: "rapor_average", Message: "must be between 0 and 100"})
		}
		if d.AchievementPoints != nil && *d.AchievementPoints < 0 {
			return apperr.Validation("path_data invalid for prestasi",
				apperr.FieldError{Field: "achievement_points", Message: "must not be negative"})
		}
	case PathAfirmasi, PathPerpindahanTugas:
		// Boolean flags and document completeness need no shape checks.
	default:
		return apperr.Validation("unknown path type")
	}
	return nil
}

// Package selection turns verified registrations into admission outcomes:
// deterministic scoring, per-path ranking, quota-bounded acceptance, the
// announcement, and the anonymous result lookup.
package selection

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"sort"
	"time"

	"github.com/ppdb-id/ppdb-backend/internal/apperr"
	"github.com/ppdb-id/ppdb-backend/internal/audit"
	"github.com/ppdb-id/ppdb-backend/internal/model"
	"github.com/ppdb-id/ppdb-backend/internal/notify"
	"github.com/ppdb-id/ppdb-backend/internal/scoring"
	"github.com/ppdb-id/ppdb-backend/internal/store"
)

// quotaRejectionReason marks rejections made by the selection run itself,
// distinguishing them from admin review rejections. Only these are eligible
// for reversal on a forced re-run.
const quotaRejectionReason = "kuota jalur telah terpenuhi"

type Service struct {
	store    *store.Store
	notifier notify.Sink
	auditor  *audit.Recorder
	log      *slog.Logger
	now      func() time.Time
}

func NewService(st *store.Store, notifier notify.Sink, auditor *audit.Recorder, log *slog.Logger) *Service {
	return &Service{store: st, notifier: notifier, auditor: auditor, log: log, now: time.Now}
}

// requireActivePeriod loads the period and refuses selection work on
// anything but a live admission cycle.
func requireActivePeriod(p *model.Period) error {
	if p.Status != model.PeriodActive {
		return apperr.Conflict("period is not active")
	}
	return nil
}

// CalculateScores recomputes the selection score of every verified
// registration in the period, one transaction per path.
func (s *Service) CalculateScores(ctx context.Context, scope store.Scope, periodID int64) (int, error) {
	period, err := s.store.GetPeriod(ctx, scope, periodID)
	if err != nil {
		return 0, err
	}
	if err := requireActivePeriod(period); err != nil {
		return 0, err
	}
	paths, err := s.store.ListPathsByPeriod(ctx, scope, periodID)
	if err != nil {
		return 0, err
	}
	total := 0
	for i := range paths {
		path := &paths[i]
		err := s.store.WithTx(ctx, func(tx *store.Store) error {
			regs, err := tx.ListVerifiedByPath(ctx, scope, path.ID)
			if err != nil {
				return err
			}
			for i := range regs {
				r := &regs[i]
				docs, err := tx.ListDocuments(ctx, scope, r.ID)
				if err != nil {
					return err
				}
				score := scoring.Score(r, docs, path)
				if err := tx.SetSelectionScore(ctx, scope, r.ID, score); err != nil {
					return err
				}
				total++
			}
			return nil
		})
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// UpdateRankings reassigns dense rankings 1..N per path over the scored
// verified pool, ordered by score descending with submission order breaking
// ties. Rows without a score keep a NULL ranking.
func (s *Service) UpdateRankings(ctx context.Context, scope store.Scope, periodID int64) error {
	period, err := s.store.GetPeriod(ctx, scope, periodID)
	if err != nil {
		return err
	}
	if err := requireActivePeriod(period); err != nil {
		return err
	}
	paths, err := s.store.ListPathsByPeriod(ctx, scope, periodID)
	if err != nil {
		return err
	}
	for i := range paths {
		path := &paths[i]
		err := s.store.WithTx(ctx, func(tx *store.Store) error {
			regs, err := tx.ListVerifiedByPath(ctx, scope, path.ID)
			if err != nil {
				return err
			}
			rank := 0
			for i := range regs {
				if regs[i].SelectionScore == nil {
					continue
				}
				rank++
				if err := tx.SetRanking(ctx, scope, regs[i].ID, rank); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Outcome is the computed decision for one registration.
type Outcome struct {
	RegistrationID int64
	Score          float64
	Ranking        int
	Accepted       bool
	prev           model.RegistrationStatus
}

// RunSelection scores, ranks, and decides the whole period in one
// transaction under the period lock. Re-running with identical outcomes is a
// no-op; a re-run that would flip decisions fails with Conflict unless
// force is set.
func (s *Service) RunSelection(ctx context.Context, scope store.Scope, periodID int64, force bool) (map[int64][]Outcome, error) {
	results := map[int64][]Outcome{}
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		period, err := tx.GetPeriodForUpdate(ctx, scope, periodID)
		if err != nil {
			return err
		}
		if err := requireActivePeriod(period); err != nil {
			return err
		}
		paths, err := tx.ListPathsByPeriod(ctx, scope, period.ID)
		if err != nil {
			return err
		}
		for i := range paths {
			path := &paths[i]
			outcomes, err := s.selectPath(ctx, tx, scope, path, force)
			if err != nil {
				return err
			}
			results[path.ID] = outcomes
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, model.AuditEntry{
		UserID: &scope.UserID, EntityType: "period", EntityID: periodID, Action: model.ActionSelect,
	})
	return results, nil
}

// selectPath decides one path: the candidate pool is every verified
// registration plus the outcomes of earlier runs (accepted, or rejected by
// quota). Admin-rejected registrations never re-enter the pool.
func (s *Service) selectPath(ctx context.Context, tx *store.Store, scope store.Scope, path *model.RegistrationPath, force bool) ([]Outcome, error) {
	pool, err := tx.ListByPathAndStatuses(ctx, scope, path.ID,
		model.StatusVerified, model.StatusAccepted, model.StatusRejected)
	if err != nil {
		return nil, err
	}
	candidates := pool[:0]
	previouslyDecided := false
	for i := range pool {
		r := pool[i]
		switch r.Status {
		case model.StatusRejected:
			if r.RejectionReason != quotaRejectionReason {
				continue
			}
			previouslyDecided = true
		case model.StatusAccepted:
			previouslyDecided = true
		}
		candidates = append(candidates, r)
	}

	outcomes := make([]Outcome, 0, len(candidates))
	for i := range candidates {
		r := &candidates[i]
		docs, err := tx.ListDocuments(ctx, scope, r.ID)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, Outcome{
			RegistrationID: r.ID,
			Score:          scoring.Score(r, docs, path),
			prev:           r.Status,
		})
	}
	sortOutcomes(outcomes, candidates)
	for i := range outcomes {
		outcomes[i].Ranking = i + 1
		outcomes[i].Accepted = i < path.Quota
	}

	if previouslyDecided && !force {
		for _, o := range outcomes {
			if o.prev == model.StatusAccepted && !o.Accepted ||
				o.prev == model.StatusRejected && o.Accepted {
				return nil, apperr.Conflict("selection already ran and a re-run would change outcomes; use force to override")
			}
		}
	}

	for i, o := range outcomes {
		r := &candidates[i]
		if err := tx.SetSelectionScore(ctx, scope, o.RegistrationID, o.Score); err != nil {
			return nil, err
		}
		if err := tx.SetRanking(ctx, scope, o.RegistrationID, o.Ranking); err != nil {
			return nil, err
		}
		target := model.StatusAccepted
		reason := ""
		if !o.Accepted {
			target = model.StatusRejected
			reason = quotaRejectionReason
		}
		if r.Status == target {
			continue
		}
		if err := tx.TransitionStatus(ctx, scope, o.RegistrationID, r.Status, target, reason, nil); err != nil {
			return nil, err
		}
	}
	return outcomes, nil
}

// sortOutcomes orders by score descending; scores within tolerance tie and
// fall back to submission time, then id. candidates is reordered in step.
func sortOutcomes(outcomes []Outcome, candidates []model.Registration) {
	idx := make([]int, len(outcomes))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		oa, ob := outcomes[idx[a]], outcomes[idx[b]]
		if !scoring.Equal(oa.Score, ob.Score) {
			return oa.Score > ob.Score
		}
		ca, cb := candidates[idx[a]], candidates[idx[b]]
		if !ca.CreatedAt.Equal(cb.CreatedAt) {
			return ca.CreatedAt.Before(cb.CreatedAt)
		}
		return ca.ID < cb.ID
	})
	sortedO := make([]Outcome, len(outcomes))
	sortedC := make([]model.Registration, len(candidates))
	for i, j := range idx {
		sortedO[i] = outcomes[j]
		sortedC[i] = candidates[j]
	}
	copy(outcomes, sortedO)
	copy(candidates, sortedC)
}

// Announce publishes the period's results. The first call sets the
// announcement date and notifies applicants; later calls are no-ops.
// There is nothing to announce before a selection run has decided at
// least one registration.
func (s *Service) Announce(ctx context.Context, scope store.Scope, periodID int64) error {
	period, err := s.store.GetPeriod(ctx, scope, periodID)
	if err != nil {
		return err
	}
	decided, err := s.store.CountSelectionDecided(ctx, period.ID, quotaRejectionReason)
	if err != nil {
		return err
	}
	if decided == 0 {
		return apperr.Conflict("selection has not been run for this period")
	}
	first, err := s.store.SetAnnouncementDate(ctx, scope, period.ID, s.now())
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	s.auditor.Record(ctx, model.AuditEntry{
		SchoolID: &period.SchoolID, UserID: &scope.UserID,
		EntityType: "period", EntityID: period.ID, Action: model.ActionAnnounce,
	})
	s.notifyResults(ctx, scope, period)
	return nil
}

// announceBatchSize bounds one listing page while notifying a cohort.
var announceBatchSize = 500

func (s *Service) notifyResults(ctx context.Context, scope store.Scope, period *model.Period) {
	for _, status := range []model.RegistrationStatus{model.StatusAccepted, model.StatusRejected} {
		for page := 1; ; page++ {
			regs, _, err := s.store.ListRegistrations(ctx, scope, store.RegistrationFilter{
				Page: page, PageSize: announceBatchSize, PeriodID: period.ID, Status: status,
			})
			if err != nil {
				s.log.Warn("announcement listing failed", "period_id", period.ID, "status", string(status), "error", err)
				break
			}
			for i := range regs {
				r := &regs[i]
				if r.StudentEmail == "" {
					continue
				}
				body := "Mohon maaf, Anda belum diterima."
				if status == model.StatusAccepted {
					body = "Selamat, Anda diterima. Segera lakukan daftar ulang."
				}
				if err := s.notifier.Send(ctx, notify.Notification{
					Kind:      notify.KindResultAnnounced,
					Recipient: r.StudentEmail,
					Subject:   "Pengumuman hasil seleksi",
					Body:      body,
				}); err != nil {
					s.log.Warn("result notification not sent", "registration_id", r.ID, "error", err)
				}
			}
			if len(regs) < announceBatchSize {
				break
			}
		}
	}
}

// Result is the public view of one applicant's outcome.
type Result struct {
	RegistrationNumber   string    `json:"registration_number"`
	StudentName          string    `json:"student_name"`
	StudentNISN          string    `json:"student_nisn"`
	PathName             string    `json:"path_name"`
	Status               string    `json:"status"`
	Score                *float64  `json:"score,omitempty"`
	Ranking              *int      `json:"ranking,omitempty"`
	RejectionReason      string    `json:"rejection_reason,omitempty"`
	AnnouncementDate     time.Time `json:"announcement_date"`
	ReenrollmentDeadline time.Time `json:"reenrollment_deadline"`
}

// CheckResult is the anonymous lookup by registration number and NISN.
// Wrong number, wrong NISN, and a period that has not announced yet are
// all indistinguishable from the outside.
func (s *Service) CheckResult(ctx context.Context, registrationNumber, nisn string) (*Result, error) {
	notFound := apperr.NotFound("no result for this registration number and NISN")
	r, err := s.store.GetRegistrationByNumber(ctx, registrationNumber)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil, notFound
		}
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(r.StudentNISN), []byte(nisn)) != 1 {
		return nil, notFound
	}
	period, err := s.store.GetPeriod(ctx, store.SystemScope(), r.PeriodID)
	if err != nil {
		return nil, err
	}
	if period.AnnouncementDate == nil || s.now().Before(*period.AnnouncementDate) {
		return nil, notFound
	}
	path, err := s.store.GetPath(ctx, store.SystemScope(), r.PathID)
	if err != nil {
		return nil, err
	}
	return &Result{
		RegistrationNumber:   r.RegistrationNumber,
		StudentName:          r.StudentName,
		StudentNISN:          r.StudentNISN,
		PathName:             path.Name,
		Status:               string(r.Status),
		Score:                r.SelectionScore,
		Ranking:              r.Ranking,
		RejectionReason:      r.RejectionReason,
		AnnouncementDate:     *period.AnnouncementDate,
		ReenrollmentDeadline: period.ReenrollmentDeadline,
	}, nil
}

// Rankings returns a path's decided list in ranking order.
func (s *Service) Rankings(ctx context.Context, scope store.Scope, pathID int64) ([]model.Registration, error) {
	if _, err := s.store.GetPath(ctx, scope, pathID); err != nil {
		return nil, err
	}
	return s.store.ListByPathAndStatuses(ctx, scope, pathID,
		model.StatusVerified, model.StatusAccepted, model.StatusRejected,
		model.StatusEnrolled, model.StatusExpired)
}

// PathRanking is one path's ranked list within a period.
type PathRanking struct {
	PathID        int64
	PathType      model.PathType
	Name          string
	Registrations []model.Registration
}

// PeriodRankings returns every path's ranked list for a period.
func (s *Service) PeriodRankings(ctx context.Context, scope store.Scope, periodID int64) ([]PathRanking, error) {
	paths, err := s.store.ListPathsByPeriod(ctx, scope, periodID)
	if err != nil {
		return nil, err
	}
	out := make([]PathRanking, 0, len(paths))
	for i := range paths {
		path := &paths[i]
		regs, err := s.Rankings(ctx, scope, path.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, PathRanking{
			PathID: path.ID, PathType: path.PathType, Name: path.Name,
			Registrations: regs,
		})
	}
	return out, nil
}

// PathSummary aggregates one path's selection state.
type PathSummary struct {
	PathID     int64          `json:"path_id"`
	PathType   model.PathType `json:"path_type"`
	Name       string         `json:"name"`
	Quota      int            `json:"quota"`
	Candidates int            `json:"candidates"`
	Accepted   int64          `json:"accepted"`
	Rejected   int64          `json:"rejected"`
	Remaining  int            `json:"remaining_quota"`
	MinScore   *float64       `json:"min_score,omitempty"`
	MaxScore   *float64       `json:"max_score,omitempty"`
}

// Summary reports per-path quota fill and score spread for a period.
func (s *Service) Summary(ctx context.Context, scope store.Scope, periodID int64) ([]PathSummary, error) {
	paths, err := s.store.ListPathsByPeriod(ctx, scope, periodID)
	if err != nil {
		return nil, err
	}
	out := make([]PathSummary, 0, len(paths))
	for i := range paths {
		path := &paths[i]
		regs, err := s.store.ListByPathAndStatuses(ctx, scope, path.ID,
			model.StatusVerified, model.StatusAccepted, model.StatusRejected,
			model.StatusEnrolled, model.StatusExpired)
		if err != nil {
			return nil, err
		}
		accepted, err := s.store.CountByPathAndStatus(ctx, path.ID, model.StatusAccepted)
		if err != nil {
			return nil, err
		}
		rejected, err := s.store.CountByPathAndStatus(ctx, path.ID, model.StatusRejected)
		if err != nil {
			return nil, err
		}
		sum := PathSummary{
			PathID: path.ID, PathType: path.PathType, Name: path.Name,
			Quota: path.Quota, Candidates: len(regs),
			Accepted: accepted, Rejected: rejected,
		}
		if remaining := path.Quota - int(accepted); remaining > 0 {
			sum.Remaining = remaining
		}
		for j := range regs {
			sc := regs[j].SelectionScore
			if sc == nil {
				continue
			}
			if sum.MinScore == nil || *sc < *sum.MinScore {
				v := *sc
				sum.MinScore = &v
			}
			if sum.MaxScore == nil || *sc > *sum.MaxScore {
				v := *sc
				sum.MaxScore = &v
			}
		}
		out = append(out, sum)
	}
	return out, nil
}

// PathStats reports the score distribution of one path's scored pool.
type PathStats struct {
	PathID   int64          `json:"path_id"`
	PathType model.PathType `json:"path_type"`
	Name     string         `json:"name"`
	Total    int            `json:"total"`
	Highest  *float64       `json:"highest_score,omitempty"`
	Lowest   *float64       `json:"lowest_score,omitempty"`
	Average  *float64       `json:"average_score,omitempty"`
}

// Stats aggregates per-path score statistics over every registration that
// carries a selection score.
func (s *Service) Stats(ctx context.Context, scope store.Scope, periodID int64) ([]PathStats, error) {
	paths, err := s.store.ListPathsByPeriod(ctx, scope, periodID)
	if err != nil {
		return nil, err
	}
	out := make([]PathStats, 0, len(paths))
	for i := range paths {
		path := &paths[i]
		regs, err := s.store.ListByPathAndStatuses(ctx, scope, path.ID,
			model.StatusVerified, model.StatusAccepted, model.StatusRejected,
			model.StatusEnrolled, model.StatusExpired)
		if err != nil {
			return nil, err
		}
		st := PathStats{PathID: path.ID, PathType: path.PathType, Name: path.Name}
		sum := 0.0
		for j := range regs {
			sc := regs[j].SelectionScore
			if sc == nil {
				continue
			}
			st.Total++
			sum += *sc
			if st.Lowest == nil || *sc < *st.Lowest {
				v := *sc
				st.Lowest = &v
			}
			if st.Highest == nil || *sc > *st.Highest {
				v := *sc
				st.Highest = &v
			}
		}
		if st.Total > 0 {
			avg := sum / float64(st.Total)
			st.Average = &avg
		}
		out = append(out, st)
	}
	return out, nil
}

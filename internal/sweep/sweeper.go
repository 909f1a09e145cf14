// Package sweep orchestrates the quality gate: it batches candidate records
// out of the store, runs the rubric and the duplicate detector, and
// merge-writes verdicts back.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexusai/promptgate/internal/model"
	"github.com/nexusai/promptgate/internal/qa"
)

// ErrSweepInProgress is returned by SweepOnce when another sweep holds the
// single-flight guard.
var ErrSweepInProgress = errors.New("sweep already in progress")

// Evaluator produces the pure rubric verdict for a record.
type Evaluator interface {
	Evaluate(ctx context.Context, p *model.Product) qa.Evaluation
}

// Store is the data access surface the sweeper needs.
type Store interface {
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	ListProducts(ctx context.Context, f model.ProductFilter) ([]model.Product, error)
	FindConceptDuplicates(ctx context.Context, conceptKey, excludeID string) ([]string, error)
	ApplyQA(ctx context.Context, id string, qa model.QAResult, status *string) error
}

// Config controls sweep behavior.
type Config struct {
	// ScanStatuses are the lifecycle statuses eligible for evaluation.
	ScanStatuses []string
	// BatchSize bounds how many records per status one sweep touches.
	BatchSize int
	// Interval is the delay between scheduled sweeps.
	Interval time.Duration
	// ThrottleWindow is the minimum time between automatic evaluations of
	// the same record. On-demand EvaluateOne ignores it.
	ThrottleWindow time.Duration
	// WriteStatus controls whether verdicts advance the lifecycle status or
	// only annotate qa.*.
	WriteStatus bool
	// StatusPassed / StatusFailed are the lifecycle labels written on a
	// verdict when WriteStatus is set.
	StatusPassed string
	StatusFailed string
	// DuplicateWeight is the score deduction applied on the duplicate
	// downgrade. Wire it to the evaluator's weight for the duplicate reason;
	// defaults to the standard rubric weight.
	DuplicateWeight int
}

// Sweeper runs throttled batch evaluations over the store.
type Sweeper struct {
	store Store
	eval  Evaluator
	cfg   Config
	log   *slog.Logger

	// mu is the single-flight guard: a tick that fires while the previous
	// sweep is still running is dropped, never queued.
	mu        sync.Mutex
	lastSweep atomic.Int64

	now func() time.Time
}

// New creates a Sweeper, applying defaults for unset config fields.
func New(store Store, eval Evaluator, cfg Config, log *slog.Logger) *Sweeper {
	if len(cfg.ScanStatuses) == 0 {
		cfg.ScanStatuses = []string{model.StatusPending, model.StatusDraft, model.StatusQAFailed}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.ThrottleWindow <= 0 {
		cfg.ThrottleWindow = time.Hour
	}
	if cfg.StatusPassed == "" {
		cfg.StatusPassed = model.StatusQAPassed
	}
	if cfg.StatusFailed == "" {
		cfg.StatusFailed = model.StatusQAFailed
	}
	if cfg.DuplicateWeight <= 0 {
		cfg.DuplicateWeight = qa.DefaultWeights().For(model.ReasonDuplicateConcept)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{store: store, eval: eval, cfg: cfg, log: log, now: time.Now}
}

// EvaluateOne fetches a record, evaluates it, applies the duplicate
// adjustment, and merge-writes the result. It is callable on demand and does
// not consult the throttle window. Returns the final persisted verdict.
func (s *Sweeper) EvaluateOne(ctx context.Context, id string) (*model.QAResult, error) {
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}

	ev := s.eval.Evaluate(ctx, p)

	// The duplicate snapshot is best-effort: a concurrent evaluator may see
	// a different set of "other records". Accepted non-determinism.
	duplicates, err := s.store.FindConceptDuplicates(ctx, ev.ConceptKey, p.ID)
	if err != nil {
		return nil, fmt.Errorf("find duplicates: %w", err)
	}

	result := model.QAResult{
		Status:      ev.Status,
		Score:       ev.Score,
		FailReasons: ev.FailReasons,
		CheckedAt:   ev.CheckedAt,
		ConceptKey:  ev.ConceptKey,
		Duplicates:  duplicates,
	}

	// Duplicate adjustment only ever downgrades: a grouped record is exempt,
	// and an already-failed record stays failed.
	if len(duplicates) > 0 && !p.IsGrouped() {
		result.FailReasons = append(result.FailReasons, model.ReasonDuplicateConcept)
		result.Score = qa.ClampScore(result.Score - s.cfg.DuplicateWeight)
		result.Status = model.QAFailed
	}

	var status *string
	if s.cfg.WriteStatus {
		mapped := s.cfg.StatusFailed
		if result.Status == model.QAPassed {
			mapped = s.cfg.StatusPassed
		}
		status = &mapped
	}

	if err := s.store.ApplyQA(ctx, p.ID, result, status); err != nil {
		return nil, fmt.Errorf("apply qa: %w", err)
	}

	s.log.Info("evaluated product",
		"product_id", p.ID,
		"qa_status", result.Status,
		"score", result.Score,
		"fail_reasons", result.FailReasons,
		"duplicates", len(duplicates),
	)
	return &result, nil
}

// SweepOnce performs one bounded pass over all scan statuses and returns the
// number of records evaluated. Per-record errors are logged and skipped; a
// failing status query skips that status for this cycle. A sweep already in
// flight yields ErrSweepInProgress.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if !s.mu.TryLock() {
		return 0, ErrSweepInProgress
	}
	defer s.mu.Unlock()

	processed := 0
	for _, status := range s.cfg.ScanStatuses {
		candidates, err := s.store.ListProducts(ctx, model.ProductFilter{
			Status:             []string{status},
			Limit:              s.cfg.BatchSize,
			OldestCheckedFirst: true,
		})
		if err != nil {
			s.log.Error("sweep query failed", "status", status, "error", err)
			continue
		}
		for i := range candidates {
			p := &candidates[i]
			if s.withinThrottle(p.QA.CheckedAt) {
				continue
			}
			if _, err := s.EvaluateOne(ctx, p.ID); err != nil {
				s.log.Error("evaluation failed", "product_id", p.ID, "error", err)
				continue
			}
			processed++
		}
	}

	s.lastSweep.Store(s.now().UTC().Unix())
	return processed, nil
}

// Run performs an immediate sweep and then sweeps on a fixed interval until
// the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info("sweeper started",
		"interval", s.cfg.Interval.String(),
		"throttle", s.cfg.ThrottleWindow.String(),
		"scan_statuses", s.cfg.ScanStatuses,
	)

	s.runSweep(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

func (s *Sweeper) runSweep(ctx context.Context) {
	n, err := s.SweepOnce(ctx)
	if errors.Is(err, ErrSweepInProgress) {
		s.log.Warn("skipping tick, previous sweep still running")
		return
	}
	if err != nil {
		s.log.Error("sweep failed", "error", err)
		return
	}
	s.log.Info("sweep complete", "processed", n)
}

// LastSweep returns the completion time of the most recent sweep, or the
// zero time when none has finished yet.
func (s *Sweeper) LastSweep() time.Time {
	unix := s.lastSweep.Load()
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0).UTC()
}

func (s *Sweeper) withinThrottle(checkedAt string) bool {
	if checkedAt == "" {
		return false
	}
	t, err := time.Parse(time.RFC3339, checkedAt)
	if err != nil {
		return false
	}
	return s.now().Sub(t) < s.cfg.ThrottleWindow
}

package sweep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/nexusai/promptgate/internal/model"
	"github.com/nexusai/promptgate/internal/qa"
	"github.com/nexusai/promptgate/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := store.New(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEvaluator returns a fixed verdict but derives the concept key and
// checked-at from the record and clock, like the real rubric does.
type fakeEvaluator struct {
	status string
	score  int
	clock  func() time.Time
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, p *model.Product) qa.Evaluation {
	ev := qa.Evaluation{
		Score:      f.score,
		Status:     f.status,
		ConceptKey: qa.ConceptKey(p.Title, p.ProductType),
		CheckedAt:  f.clock().UTC().Format(time.RFC3339),
	}
	if f.status == model.QAFailed {
		ev.FailReasons = []string{model.ReasonDescriptionTooShort}
	}
	return ev
}

func seedProduct(t *testing.T, s *store.Store, id, title string) model.Product {
	t.Helper()
	price := 25.0
	p := model.NewProduct(id)
	p.Title = title
	p.Description = "A description"
	p.Price = &price
	p.ProductType = "art"
	if err := s.CreateProduct(context.Background(), p); err != nil {
		t.Fatalf("CreateProduct(%s): %v", id, err)
	}
	return p
}

func TestEvaluateOne_WritesVerdict(t *testing.T) {
	st := newTestStore(t)
	clock := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	eval := &fakeEvaluator{status: model.QAPassed, score: 100, clock: clock}
	sw := New(st, eval, Config{WriteStatus: true}, discardLogger())

	seedProduct(t, st, "prod-1", "Neon Pack")

	result, err := sw.EvaluateOne(context.Background(), "prod-1")
	if err != nil {
		t.Fatalf("EvaluateOne: %v", err)
	}
	if result.Status != model.QAPassed || result.Score != 100 {
		t.Errorf("result = %+v, want passed/100", result)
	}

	got, err := st.GetProduct(context.Background(), "prod-1")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if got.Status != model.StatusQAPassed {
		t.Errorf("Status = %q, want %q", got.Status, model.StatusQAPassed)
	}
	if got.QA.ConceptKey != "neon-pack|art" {
		t.Errorf("ConceptKey = %q, want neon-pack|art", got.QA.ConceptKey)
	}
	if got.QA.CheckedAt != "2026-03-01T12:00:00Z" {
		t.Errorf("CheckedAt = %q", got.QA.CheckedAt)
	}
}

func TestEvaluateOne_SecondDuplicateGetsFlagged(t *testing.T) {
	st := newTestStore(t)
	eval := &fakeEvaluator{status: model.QAPassed, score: 100, clock: time.Now}
	sw := New(st, eval, Config{WriteStatus: true}, discardLogger())
	ctx := context.Background()

	seedProduct(t, st, "prod-a", "Neon Pack")
	seedProduct(t, st, "prod-b", "Neon Pack")

	// First evaluation sees no persisted concept key anywhere else.
	first, err := sw.EvaluateOne(ctx, "prod-a")
	if err != nil {
		t.Fatalf("EvaluateOne(prod-a): %v", err)
	}
	if first.Status != model.QAPassed || len(first.Duplicates) != 0 {
		t.Errorf("first = %+v, want clean pass", first)
	}

	second, err := sw.EvaluateOne(ctx, "prod-b")
	if err != nil {
		t.Fatalf("EvaluateOne(prod-b): %v", err)
	}
	if !second.HasReason(model.ReasonDuplicateConcept) {
		t.Errorf("FailReasons = %v, want duplicate reason", second.FailReasons)
	}
	if second.Status != model.QAFailed {
		t.Errorf("Status = %q, want failed", second.Status)
	}
	if second.Score != 60 {
		t.Errorf("Score = %d, want 60", second.Score)
	}
	if len(second.Duplicates) != 1 || second.Duplicates[0] != "prod-a" {
		t.Errorf("Duplicates = %v, want [prod-a]", second.Duplicates)
	}

	got, err := st.GetProduct(ctx, "prod-b")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if got.Status != model.StatusQAFailed {
		t.Errorf("persisted Status = %q, want %q", got.Status, model.StatusQAFailed)
	}
}

func TestEvaluateOne_GroupedRecordsExemptFromDuplicate(t *testing.T) {
	st := newTestStore(t)
	eval := &fakeEvaluator{status: model.QAPassed, score: 100, clock: time.Now}
	sw := New(st, eval, Config{WriteStatus: true}, discardLogger())
	ctx := context.Background()

	price := 25.0
	for _, id := range []string{"prod-a", "prod-b"} {
		p := model.NewProduct(id)
		p.Title = "Neon Pack"
		p.ProductType = "art"
		p.Price = &price
		p.ProductGroupID = "grp-1"
		if err := st.CreateProduct(ctx, p); err != nil {
			t.Fatalf("CreateProduct(%s): %v", id, err)
		}
	}

	if _, err := sw.EvaluateOne(ctx, "prod-a"); err != nil {
		t.Fatalf("EvaluateOne(prod-a): %v", err)
	}
	second, err := sw.EvaluateOne(ctx, "prod-b")
	if err != nil {
		t.Fatalf("EvaluateOne(prod-b): %v", err)
	}
	if second.HasReason(model.ReasonDuplicateConcept) {
		t.Errorf("FailReasons = %v, grouped variants must not be flagged", second.FailReasons)
	}
	if second.Status != model.QAPassed {
		t.Errorf("Status = %q, want passed", second.Status)
	}
	// The sibling still shows up informationally.
	if len(second.Duplicates) != 1 || second.Duplicates[0] != "prod-a" {
		t.Errorf("Duplicates = %v, want [prod-a]", second.Duplicates)
	}
}

func TestEvaluateOne_DuplicateOnlyDowngrades(t *testing.T) {
	st := newTestStore(t)
	eval := &fakeEvaluator{status: model.QAFailed, score: 30, clock: time.Now}
	sw := New(st, eval, Config{WriteStatus: true}, discardLogger())
	ctx := context.Background()

	seedProduct(t, st, "prod-a", "Neon Pack")
	seedProduct(t, st, "prod-b", "Neon Pack")

	if _, err := sw.EvaluateOne(ctx, "prod-a"); err != nil {
		t.Fatalf("EvaluateOne(prod-a): %v", err)
	}
	second, err := sw.EvaluateOne(ctx, "prod-b")
	if err != nil {
		t.Fatalf("EvaluateOne(prod-b): %v", err)
	}
	if second.Status != model.QAFailed {
		t.Errorf("Status = %q, want failed", second.Status)
	}
	if second.Score != 0 {
		t.Errorf("Score = %d, want clamped 0", second.Score)
	}
}

func TestSweepOnce_ThrottleWindow(t *testing.T) {
	st := newTestStore(t)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := t0
	clock := func() time.Time { return current }

	eval := &fakeEvaluator{status: model.QAPassed, score: 100, clock: clock}
	sw := New(st, eval, Config{ThrottleWindow: time.Hour, WriteStatus: false}, discardLogger())
	sw.now = clock
	ctx := context.Background()

	seedProduct(t, st, "prod-1", "Neon Pack")

	n, err := sw.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("processed = %d, want 1", n)
	}

	// Within the window the record is skipped and checked_at stays put.
	current = t0.Add(10 * time.Minute)
	n, err = sw.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if n != 0 {
		t.Errorf("processed = %d, want 0", n)
	}
	got, err := st.GetProduct(ctx, "prod-1")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if got.QA.CheckedAt != t0.Format(time.RFC3339) {
		t.Errorf("CheckedAt = %q, want %q", got.QA.CheckedAt, t0.Format(time.RFC3339))
	}

	// Past the window the record is re-evaluated.
	current = t0.Add(61 * time.Minute)
	n, err = sw.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if n != 1 {
		t.Errorf("processed = %d, want 1", n)
	}
	got, err = st.GetProduct(ctx, "prod-1")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if got.QA.CheckedAt != current.Format(time.RFC3339) {
		t.Errorf("CheckedAt = %q, want %q", got.QA.CheckedAt, current.Format(time.RFC3339))
	}
}

func TestEvaluateOne_DuplicateUsesConfiguredWeight(t *testing.T) {
	st := newTestStore(t)
	eval := &fakeEvaluator{status: model.QAPassed, score: 100, clock: time.Now}
	sw := New(st, eval, Config{WriteStatus: true, DuplicateWeight: 10}, discardLogger())
	ctx := context.Background()

	seedProduct(t, st, "prod-a", "Neon Pack")
	seedProduct(t, st, "prod-b", "Neon Pack")

	if _, err := sw.EvaluateOne(ctx, "prod-a"); err != nil {
		t.Fatalf("EvaluateOne(prod-a): %v", err)
	}
	second, err := sw.EvaluateOne(ctx, "prod-b")
	if err != nil {
		t.Fatalf("EvaluateOne(prod-b): %v", err)
	}
	if second.Score != 90 {
		t.Errorf("Score = %d, want 90", second.Score)
	}
	if second.Status != model.QAFailed {
		t.Errorf("Status = %q, want failed", second.Status)
	}
}

func TestSweepOnce_BatchRotatesThroughBacklog(t *testing.T) {
	st := newTestStore(t)
	eval := &fakeEvaluator{status: model.QAFailed, score: 40, clock: time.Now}
	sw := New(st, eval, Config{BatchSize: 1, ThrottleWindow: time.Nanosecond, WriteStatus: false}, discardLogger())
	ctx := context.Background()

	// More candidates than one batch holds. Evaluation bumps updated_at, so
	// a recency-ordered batch would hand back the same record every sweep
	// and starve the rest of the backlog.
	seedProduct(t, st, "prod-a", "Neon Pack")
	seedProduct(t, st, "prod-b", "Chrome Pack")

	for i := 0; i < 2; i++ {
		if _, err := sw.SweepOnce(ctx); err != nil {
			t.Fatalf("SweepOnce %d: %v", i, err)
		}
	}

	for _, id := range []string{"prod-a", "prod-b"} {
		got, err := st.GetProduct(ctx, id)
		if err != nil {
			t.Fatalf("GetProduct(%s): %v", id, err)
		}
		if got.QA.CheckedAt == "" {
			t.Errorf("%s was never evaluated across 2 sweeps", id)
		}
	}
}

// flakyStore wraps the real store and fails selected operations, for
// exercising the sweep's error isolation.
type flakyStore struct {
	*store.Store
	failApplyID    string
	failListStatus string
}

func (f *flakyStore) ApplyQA(ctx context.Context, id string, qa model.QAResult, status *string) error {
	if id == f.failApplyID {
		return errors.New("disk full")
	}
	return f.Store.ApplyQA(ctx, id, qa, status)
}

func (f *flakyStore) ListProducts(ctx context.Context, fl model.ProductFilter) ([]model.Product, error) {
	if len(fl.Status) == 1 && fl.Status[0] == f.failListStatus {
		return nil, errors.New("query timeout")
	}
	return f.Store.ListProducts(ctx, fl)
}

func TestSweepOnce_RecordErrorDoesNotAbortBatch(t *testing.T) {
	st := newTestStore(t)
	flaky := &flakyStore{Store: st, failApplyID: "prod-a"}
	eval := &fakeEvaluator{status: model.QAPassed, score: 100, clock: time.Now}
	sw := New(flaky, eval, Config{WriteStatus: false}, discardLogger())
	ctx := context.Background()

	seedProduct(t, st, "prod-a", "Neon Pack")
	seedProduct(t, st, "prod-b", "Chrome Pack")

	n, err := sw.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if n != 1 {
		t.Errorf("processed = %d, want 1", n)
	}

	got, err := st.GetProduct(ctx, "prod-b")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if got.QA.CheckedAt == "" {
		t.Error("prod-b was not evaluated after prod-a's write failed")
	}
	got, err = st.GetProduct(ctx, "prod-a")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if got.QA.CheckedAt != "" {
		t.Errorf("prod-a has a verdict despite the failed write: %+v", got.QA)
	}
}

func TestSweepOnce_StatusQueryErrorSkipsOnlyThatStatus(t *testing.T) {
	st := newTestStore(t)
	flaky := &flakyStore{Store: st, failListStatus: model.StatusPending}
	eval := &fakeEvaluator{status: model.QAPassed, score: 100, clock: time.Now}
	sw := New(flaky, eval, Config{WriteStatus: false}, discardLogger())
	ctx := context.Background()

	seedProduct(t, st, "prod-a", "Neon Pack")
	price := 9.0
	p := model.NewProduct("prod-b")
	p.Title = "Chrome Pack"
	p.ProductType = "art"
	p.Price = &price
	p.Status = model.StatusDraft
	if err := st.CreateProduct(ctx, p); err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	n, err := sw.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if n != 1 {
		t.Errorf("processed = %d, want 1", n)
	}
	got, err := st.GetProduct(ctx, "prod-b")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if got.QA.CheckedAt == "" {
		t.Error("draft record was not evaluated after the pending query failed")
	}
}

func TestSweepOnce_IgnoresStatusesOutsideScanSet(t *testing.T) {
	st := newTestStore(t)
	eval := &fakeEvaluator{status: model.QAPassed, score: 100, clock: time.Now}
	sw := New(st, eval, Config{}, discardLogger())
	ctx := context.Background()

	price := 9.0
	p := model.NewProduct("prod-1")
	p.Title = "Published Pack"
	p.ProductType = "art"
	p.Price = &price
	p.Status = "published"
	if err := st.CreateProduct(ctx, p); err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	n, err := sw.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if n != 0 {
		t.Errorf("processed = %d, want 0", n)
	}
	got, err := st.GetProduct(ctx, "prod-1")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if got.QA.CheckedAt != "" {
		t.Errorf("record outside the scan set was evaluated: %+v", got.QA)
	}
}

func TestSweepOnce_SingleFlight(t *testing.T) {
	st := newTestStore(t)
	eval := &fakeEvaluator{status: model.QAPassed, score: 100, clock: time.Now}
	sw := New(st, eval, Config{}, discardLogger())

	sw.mu.Lock()
	defer sw.mu.Unlock()

	_, err := sw.SweepOnce(context.Background())
	if err != ErrSweepInProgress {
		t.Fatalf("err = %v, want ErrSweepInProgress", err)
	}
}

func TestLastSweep(t *testing.T) {
	st := newTestStore(t)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eval := &fakeEvaluator{status: model.QAPassed, score: 100, clock: time.Now}
	sw := New(st, eval, Config{}, discardLogger())
	sw.now = func() time.Time { return t0 }

	if !sw.LastSweep().IsZero() {
		t.Errorf("LastSweep before any sweep = %v, want zero", sw.LastSweep())
	}

	if _, err := sw.SweepOnce(context.Background()); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if got := sw.LastSweep(); !got.Equal(t0) {
		t.Errorf("LastSweep = %v, want %v", got, t0)
	}
}

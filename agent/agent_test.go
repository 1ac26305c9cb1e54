package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fleetsense/fleetsense/config"
	"github.com/fleetsense/fleetsense/contrib/vector/inmemory"
	"github.com/fleetsense/fleetsense/memory"
	"github.com/fleetsense/fleetsense/rag/document"
	"github.com/fleetsense/fleetsense/rag/retriever"
	"github.com/fleetsense/fleetsense/report"
	"github.com/fleetsense/fleetsense/risk"
	"github.com/fleetsense/fleetsense/vector"
)

// keywordEmbedder steers similarity deterministically from a fixed
// vocabulary.
type keywordEmbedder struct {
	keywords []string
}

func newKeywordEmbedder() *keywordEmbedder {
	return &keywordEmbedder{keywords: []string{"brake", "battery", "tire", "oil"}}
}

func (e *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v := make([]float64, len(e.keywords))
		lower := strings.ToLower(t)
		for j, kw := range e.keywords {
			v[j] = float64(strings.Count(lower, kw))
		}
		out[i] = vector.Normalize(v)
	}
	return out, nil
}

func (e *keywordEmbedder) Dimensions() int { return len(e.keywords) }

// stubLLM plays back scripted responses, repeating the last one, and
// records every prompt it saw.
type stubLLM struct {
	responses []string
	delay     time.Duration
	calls     int
	prompts   [][]memory.Turn
}

func (s *stubLLM) Generate(ctx context.Context, turns []memory.Turn) (memory.Turn, error) {
	s.calls++
	s.prompts = append(s.prompts, turns)
	if d := s.delay; d > 0 {
		s.delay = 0
		select {
		case <-ctx.Done():
			return memory.Turn{}, ctx.Err()
		case <-time.After(d):
		}
	}
	idx := s.calls - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return memory.Turn{Role: memory.RoleAgent, Content: s.responses[idx]}, nil
}

const groundedDraft = `{
	"vehicle_id": "V1",
	"health_summary": "Elevated risk driven by brake wear and battery age.",
	"risk_tier": "HIGH",
	"timeline": [
		{"action": "Replace brake pads", "due_mileage_km": 85000, "rationale": "Brake wear is the dominant factor.", "citations": ["brakes#0"]},
		{"action": "Test battery voltage", "rationale": "Battery age contributes to the score.", "citations": ["battery#0"]}
	]
}`

const uncitedDraft = `{
	"vehicle_id": "V1",
	"health_summary": "Elevated risk.",
	"risk_tier": "HIGH",
	"timeline": [
		{"action": "Replace brake pads", "rationale": "Brakes wear out around 50,000 km.", "citations": []}
	]
}`

const advisoryDraft = `{
	"vehicle_id": "V1",
	"health_summary": "Elevated risk, but no guidance was retrieved.",
	"risk_tier": "HIGH",
	"timeline": [
		{"action": "Schedule a general inspection", "rationale": "No specific guidance available.", "citations": [], "advisory": true}
	]
}`

func testAssessment() risk.Assessment {
	return risk.Assessment{
		VehicleID: "V1",
		Score:     0.82,
		Tier:      risk.TierHigh,
		Features: []risk.Feature{
			{Name: "brake_wear", Weight: 0.6},
			{Name: "battery_age", Weight: 0.4},
		},
	}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.RetryBudget = 3
	cfg.RelevanceFloor = 0.25
	cfg.GenerationTimeout = 100 * time.Millisecond
	return cfg
}

func newEngine(t *testing.T, llm LLMClient, docs []document.Document, cfg config.Config) *Engine {
	t.Helper()
	ret := retriever.New(newKeywordEmbedder(), inmemory.New(), retriever.Config{
		TopK:           cfg.TopK,
		RelevanceFloor: cfg.RelevanceFloor,
		Attempts:       1,
	})
	if docs != nil {
		if _, err := ret.Index(context.Background(), docs); err != nil {
			t.Fatalf("index: %v", err)
		}
	}
	validator, err := report.NewValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	return New(llm, ret, validator, cfg)
}

func corpusDocs() []document.Document {
	return []document.Document{
		{ID: "brakes", Content: "Brake pads typically need replacement every 40,000 to 70,000 km. Worn brake condition is a critical safety concern."},
		{ID: "battery", Content: "Battery life averages 3-5 years. A weak battery indicates maintenance is due."},
		{ID: "tires", Content: "Tire pressure should be checked monthly."},
	}
}

func TestRunProducesGroundedReport(t *testing.T) {
	llm := &stubLLM{responses: []string{groundedDraft}}
	e := newEngine(t, llm, corpusDocs(), testConfig())

	st := NewState("s1", testAssessment())
	mem := memory.New("s1", 10, nil)

	if err := e.Run(context.Background(), st, mem); err != nil {
		t.Fatalf("run: %v", err)
	}
	if st.Phase != PhaseDone {
		t.Fatalf("phase = %s, failure = %+v", st.Phase, st.Failure)
	}
	if st.Report == nil {
		t.Fatal("no report emitted")
	}
	if st.Report.RiskTier != risk.TierHigh {
		t.Errorf("tier = %s, want HIGH", st.Report.RiskTier)
	}

	var brake, battery bool
	for _, entry := range st.Report.Timeline {
		for _, cit := range entry.Citations {
			if strings.HasPrefix(cit, "brakes#") {
				brake = true
			}
			if strings.HasPrefix(cit, "battery#") {
				battery = true
			}
		}
	}
	if !brake || !battery {
		t.Errorf("expected brake and battery citations, got %+v", st.Report.Timeline)
	}
	if mem.Len() == 0 {
		t.Error("agent turn not appended to memory")
	}
}

func TestRunExhaustsRetryBudget(t *testing.T) {
	llm := &stubLLM{responses: []string{uncitedDraft}}
	cfg := testConfig()
	e := newEngine(t, llm, corpusDocs(), cfg)

	st := NewState("s1", testAssessment())
	if err := e.Run(context.Background(), st, memory.New("s1", 10, nil)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if st.Phase != PhaseFailed {
		t.Fatalf("phase = %s, want FAILED", st.Phase)
	}
	if llm.calls != cfg.RetryBudget {
		t.Errorf("generation attempts = %d, want %d", llm.calls, cfg.RetryBudget)
	}
	if st.Failure == nil || st.Failure.Code != "retry_exhausted" {
		t.Errorf("failure = %+v", st.Failure)
	}
	// The last partial draft stays available for the caller.
	if st.Draft.VehicleID != "V1" {
		t.Errorf("partial draft lost: %+v", st.Draft)
	}
}

func TestRetryPromptCarriesViolations(t *testing.T) {
	llm := &stubLLM{responses: []string{uncitedDraft, groundedDraft}}
	e := newEngine(t, llm, corpusDocs(), testConfig())

	st := NewState("s1", testAssessment())
	if err := e.Run(context.Background(), st, memory.New("s1", 10, nil)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if st.Phase != PhaseDone {
		t.Fatalf("phase = %s, failure = %+v", st.Phase, st.Failure)
	}
	if llm.calls != 2 {
		t.Fatalf("calls = %d, want 2", llm.calls)
	}
	second := llm.prompts[1]
	if !strings.Contains(second[len(second)-1].Content, "REJECTED") {
		t.Error("retry prompt missing corrective signal")
	}
}

func TestGenerationTimeoutRetries(t *testing.T) {
	llm := &stubLLM{responses: []string{groundedDraft}, delay: time.Second}
	cfg := testConfig()
	cfg.GenerationTimeout = 10 * time.Millisecond
	e := newEngine(t, llm, corpusDocs(), cfg)

	st := NewState("s1", testAssessment())
	if err := e.Run(context.Background(), st, memory.New("s1", 10, nil)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if st.Phase != PhaseDone {
		t.Fatalf("phase = %s, failure = %+v", st.Phase, st.Failure)
	}
	if llm.calls != 2 {
		t.Errorf("calls = %d, want timeout then success", llm.calls)
	}
}

func TestEmptyCorpusAcceptsAdvisoryOnlyDraft(t *testing.T) {
	llm := &stubLLM{responses: []string{advisoryDraft}}
	e := newEngine(t, llm, nil, testConfig())

	st := NewState("s1", testAssessment())
	if err := e.Run(context.Background(), st, memory.New("s1", 10, nil)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if st.Phase != PhaseDone {
		t.Fatalf("phase = %s, failure = %+v", st.Phase, st.Failure)
	}
	if len(st.Retrieved) != 0 {
		t.Errorf("expected empty retrieval, got %d", len(st.Retrieved))
	}
}

func TestEmptyCorpusRejectsUncitedClaim(t *testing.T) {
	llm := &stubLLM{responses: []string{uncitedDraft}}
	cfg := testConfig()
	e := newEngine(t, llm, nil, cfg)

	st := NewState("s1", testAssessment())
	if err := e.Run(context.Background(), st, memory.New("s1", 10, nil)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if st.Phase != PhaseFailed {
		t.Fatalf("phase = %s, want FAILED", st.Phase)
	}
}

// downStore simulates an unreachable vector backend.
type downStore struct{}

func (downStore) Store(context.Context, []vector.Embedding) error { return nil }
func (downStore) Search(context.Context, []float64, int) ([]vector.Embedding, error) {
	return nil, errors.New("backend down")
}
func (downStore) Delete(context.Context, []string) error { return nil }
func (downStore) Count(context.Context) (int, error)     { return 0, nil }

func newEngineWithDownBackend(t *testing.T, llm LLMClient, cfg config.Config) *Engine {
	t.Helper()
	ret := retriever.New(newKeywordEmbedder(), downStore{}, retriever.Config{
		TopK:           cfg.TopK,
		RelevanceFloor: cfg.RelevanceFloor,
		Attempts:       1,
	})
	validator, err := report.NewValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	return New(llm, ret, validator, cfg)
}

func TestRetrievalUnavailableStillReachesReasoning(t *testing.T) {
	llm := &stubLLM{responses: []string{advisoryDraft}}
	e := newEngineWithDownBackend(t, llm, testConfig())

	st := NewState("s1", testAssessment())
	if err := e.Run(context.Background(), st, memory.New("s1", 10, nil)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if st.Phase != PhaseDone {
		t.Fatalf("phase = %s, failure = %+v", st.Phase, st.Failure)
	}
	if llm.calls != 1 {
		t.Errorf("calls = %d, want 1", llm.calls)
	}
	if len(st.Retrieved) != 0 {
		t.Errorf("expected no evidence, got %d chunks", len(st.Retrieved))
	}
}

func TestRetrievalUnavailableBoundedByRetryBudget(t *testing.T) {
	llm := &stubLLM{responses: []string{uncitedDraft}}
	cfg := testConfig()
	e := newEngineWithDownBackend(t, llm, cfg)

	st := NewState("s1", testAssessment())
	if err := e.Run(context.Background(), st, memory.New("s1", 10, nil)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if st.Phase != PhaseFailed {
		t.Fatalf("phase = %s, want FAILED", st.Phase)
	}
	if st.Failure == nil || st.Failure.Code != "retry_exhausted" {
		t.Errorf("failure = %+v", st.Failure)
	}
	if llm.calls != cfg.RetryBudget {
		t.Errorf("generation attempts = %d, want %d", llm.calls, cfg.RetryBudget)
	}
}

func TestFeatureQueriesAreCapped(t *testing.T) {
	llm := &stubLLM{responses: []string{advisoryDraft}}
	cfg := testConfig()
	cfg.MaxFeatureQueries = 1
	e := newEngine(t, llm, corpusDocs(), cfg)

	a := testAssessment()
	st := NewState("s1", a)
	queries := e.buildQueries(st)
	// Primary tier query plus one feature query.
	if len(queries) != 2 {
		t.Errorf("queries = %d, want 2: %v", len(queries), queries)
	}
	if !strings.Contains(queries[1], "brake wear") {
		t.Errorf("highest-weight feature not queried first: %v", queries)
	}
}

func TestCancellationStopsAtPhaseBoundary(t *testing.T) {
	llm := &stubLLM{responses: []string{groundedDraft}}
	e := newEngine(t, llm, corpusDocs(), testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := NewState("s1", testAssessment())
	err := e.Run(ctx, st, memory.New("s1", 10, nil))
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if st.Phase != PhaseFailed {
		t.Errorf("phase = %s, want FAILED", st.Phase)
	}
	if llm.calls != 0 {
		t.Errorf("generation ran despite cancellation: %d calls", llm.calls)
	}
}

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/fleetsense/fleetsense/agent"
	"github.com/fleetsense/fleetsense/config"
	"github.com/fleetsense/fleetsense/contrib/vector/inmemory"
	"github.com/fleetsense/fleetsense/memory"
	"github.com/fleetsense/fleetsense/rag/document"
	"github.com/fleetsense/fleetsense/rag/retriever"
	"github.com/fleetsense/fleetsense/report"
	"github.com/fleetsense/fleetsense/risk"
	"github.com/fleetsense/fleetsense/service"
	"github.com/fleetsense/fleetsense/session"
	"github.com/fleetsense/fleetsense/session/store"
	"github.com/fleetsense/fleetsense/vector"
)

type keywordEmbedder struct {
	keywords []string
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

type stubLLM struct{ response string }

func (s *stubLLM) Generate(_ context.Context, _ []memory.Turn) (memory.Turn, error) {
	return memory.Turn{Role: memory.RoleAgent, Content: s.response}, nil
}

const groundedDraft = `{
	"vehicle_id": "V1",
	"health_summary": "Elevated risk driven by brake wear.",
	"risk_tier": "HIGH",
	"timeline": [
		{"action": "Replace brake pads", "rationale": "Brake wear dominates.", "citations": ["brakes#0"]}
	]
}`

func testRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	ret := retriever.New(&keywordEmbedder{keywords: []string{"brake", "battery"}}, inmemory.New(), retriever.Config{
		TopK:           cfg.TopK,
		RelevanceFloor: 0.25,
		Attempts:       1,
	})
	_, err := ret.Index(context.Background(), []document.Document{
		{ID: "brakes", Content: "Brake pads typically need replacement every 40,000 to 70,000 km."},
	})
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	validator, err := report.NewValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	engine := agent.New(&stubLLM{response: groundedDraft}, ret, validator, cfg)
	sessions := session.NewManager(store.NewInMemoryStore())
	svc := service.New(risk.NewAdapter(0.05), sessions, engine)
	return NewRouter(svc)
}

func TestStartSessionEndpoint(t *testing.T) {
	router := testRouter(t)

	body := `{
		"vehicle_id": "V1",
		"risk_score": 0.82,
		"feature_attribution": [
			{"name": "brake_wear", "weight": 0.6},
			{"name": "battery_age", "weight": 0.4}
		]
	}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var result service.TurnResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Phase != agent.PhaseDone || result.SessionID == "" {
		t.Errorf("unexpected result: %+v", result)
	}

	// The report endpoint serves the terminal artifact.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/sessions/"+result.SessionID+"/report", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("report status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestStartSessionEndpointRejectsBadScore(t *testing.T) {
	router := testRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/sessions",
		strings.NewReader(`{"vehicle_id": "V1", "risk_score": 2.0}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestReportEndpointUnknownSession(t *testing.T) {
	router := testRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/missing/report", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

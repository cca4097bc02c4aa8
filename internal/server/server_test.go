package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/visaroom/internal/decision"
	"github.com/MrWong99/visaroom/internal/exchange"
	"github.com/MrWong99/visaroom/internal/interview"
	"github.com/MrWong99/visaroom/internal/observe"
	"github.com/MrWong99/visaroom/internal/resilience"
	"github.com/MrWong99/visaroom/internal/session"
	"github.com/MrWong99/visaroom/internal/speech/wsbridge"
	"github.com/MrWong99/visaroom/pkg/provider/llm"
)

// ── helpers ─────────────────────────────────────────────────────────────────

type stubReplier struct {
	mu    sync.Mutex
	reqs  []exchange.Request
	reply string
	err   error
}

func (r *stubReplier) Reply(_ context.Context, req exchange.Request) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	if r.err != nil {
		return "", r.err
	}
	if r.reply == "" {
		return "What is the purpose of your trip?", nil
	}
	return r.reply, nil
}

func (r *stubReplier) last() exchange.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reqs[len(r.reqs)-1]
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

type testEnv struct {
	srv      *httptest.Server
	replier  *stubReplier
	sessions *session.Registry
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	m := testMetrics(t)
	rep := &stubReplier{}
	reg, err := session.NewRegistry(session.RegistryConfig{
		Factory: func(id string, docs interview.DocumentSet) (*session.Controller, error) {
			return session.New(session.Config{
				ID:            id,
				Replier:       rep,
				Documents:     docs,
				RestartDelay:  time.Millisecond,
				RelistenDelay: time.Millisecond,
				Metrics:       m,
			})
		},
		MaxActive: 2,
		Metrics:   m,
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	cfg := Config{
		Replier:  rep,
		Sessions: reg,
		Metrics:  m,
		Status: func() BackendStatus {
			return BackendStatus{Backend: "groq", Model: "llama-3.3-70b-versatile", APIConfigured: true}
		},
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "# metrics\n")
		}),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(reg.EndAll)
	return &testEnv{srv: srv, replier: rep, sessions: reg}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return v
}

func wantStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, want, b)
	}
}

// ── tests ───────────────────────────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Config{Sessions: &session.Registry{}}); err == nil {
		t.Error("New without Replier succeeded")
	}
	if _, err := New(Config{Replier: &stubReplier{}}); err == nil {
		t.Error("New without Sessions succeeded")
	}
}

func TestChat_ReturnsReply(t *testing.T) {
	env := newTestEnv(t, nil)
	body := `{
		"message": "I want to study in Germany",
		"conversationHistory": [
			{"role": "assistant", "content": "Good morning."},
			{"role": "user", "content": "Good morning."}
		],
		"uploadedDocuments": {"passport": {"name": "p.pdf"}, "supportingDocs": "letter.pdf"}
	}`
	resp := env.do(t, "POST", "/api/chat", body)
	wantStatus(t, resp, http.StatusOK)

	got := decodeBody[chatResponse](t, resp)
	if got.Response != "What is the purpose of your trip?" {
		t.Errorf("response = %q", got.Response)
	}

	req := env.replier.last()
	if req.Message != "I want to study in Germany" {
		t.Errorf("message = %q", req.Message)
	}
	if len(req.History) != 2 || req.History[0].Role != interview.RoleInterviewer {
		t.Errorf("history = %+v", req.History)
	}
	if !req.Documents.Has(interview.KindSupportingDocuments) {
		t.Error("supportingDocs alias not decoded")
	}
}

func TestChat_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		replyErr   error
		wantStatus int
		wantMsg    string
	}{
		{"empty message", `{"message": "  "}`, nil, http.StatusBadRequest, ""},
		{"bad json", `{"message":`, nil, http.StatusBadRequest, ""},
		{"bad role", `{"message": "hi", "conversationHistory": [{"role": "judge", "content": "x"}]}`, nil, http.StatusBadRequest, ""},
		{"quota", `{"message": "hi"}`, fmt.Errorf("wrap: %w", llm.ErrQuotaExceeded), http.StatusTooManyRequests, exchange.QuotaMessage},
		{"overloaded", `{"message": "hi"}`, llm.ErrOverloaded, http.StatusServiceUnavailable, exchange.GenericMessage},
		{"circuit open", `{"message": "hi"}`, resilience.ErrCircuitOpen, http.StatusServiceUnavailable, exchange.GenericMessage},
		{"malformed", `{"message": "hi"}`, llm.ErrMalformedResponse, http.StatusBadGateway, exchange.GenericMessage},
		{"other", `{"message": "hi"}`, errors.New("boom"), http.StatusBadGateway, exchange.GenericMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.replier.err = tt.replyErr

			resp := env.do(t, "POST", "/api/chat", tt.body)
			wantStatus(t, resp, tt.wantStatus)
			got := decodeBody[errorBody](t, resp)
			if got.Error == "" {
				t.Error("error field empty")
			}
			if tt.wantMsg != "" && got.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", got.Message, tt.wantMsg)
			}
		})
	}
}

func TestAnalyze_ReturnsVerdict(t *testing.T) {
	env := newTestEnv(t, nil)
	body := `{
		"conversationHistory": [
			{"role": "assistant", "content": "Why are you travelling?"},
			{"role": "user", "content": "I will study computer science at a university in Germany."}
		],
		"uploadedDocuments": {}
	}`
	resp := env.do(t, "POST", "/api/analyze-interview", body)
	wantStatus(t, resp, http.StatusOK)

	v := decodeBody[decision.Verdict](t, resp)
	if v.Decision != decision.Denied || v.Score != 0 {
		t.Errorf("verdict = %+v, want passport gate denial", v)
	}
}

func TestAnalyze_UsesDecisionOptions(t *testing.T) {
	var called bool
	env := newTestEnv(t, func(c *Config) {
		c.Decision = func() decision.Options {
			called = true
			return decision.Options{Precedence: decision.PrecedenceDenial}
		}
	})
	resp := env.do(t, "POST", "/api/analyze-interview", `{"conversationHistory": []}`)
	wantStatus(t, resp, http.StatusOK)
	if !called {
		t.Error("decision options not consulted")
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, "GET", "/api/health", "")
	wantStatus(t, resp, http.StatusOK)
	st := decodeBody[map[string]any](t, resp)
	if st["status"] != "OK" || st["backend"] != "groq" || st["apiConfigured"] != true {
		t.Errorf("status body = %v", st)
	}

	wantStatus(t, env.do(t, "GET", "/healthz", ""), http.StatusOK)
	wantStatus(t, env.do(t, "GET", "/readyz", ""), http.StatusOK)

	m := env.do(t, "GET", "/metrics", "")
	wantStatus(t, m, http.StatusOK)
	if b, _ := io.ReadAll(m.Body); !strings.Contains(string(b), "# metrics") {
		t.Errorf("metrics body = %q", b)
	}
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, "POST", "/api/sessions", `{"documents": {"passport": "p.pdf"}}`)
	wantStatus(t, resp, http.StatusCreated)
	created := decodeBody[sessionResponse](t, resp)
	if created.ID == "" || created.State != session.StateIdle {
		t.Fatalf("created = %+v", created)
	}
	if resp.Header.Get("Location") != "/api/sessions/"+created.ID {
		t.Errorf("Location = %q", resp.Header.Get("Location"))
	}
	base := "/api/sessions/" + created.ID

	resp = env.do(t, "POST", base+"/documents", `{"documents": {"financialProof": {"name": "bank.pdf"}}}`)
	wantStatus(t, resp, http.StatusOK)
	got := decodeBody[sessionResponse](t, resp)
	if !got.Documents.Has(interview.KindPassport) || !got.Documents.Has(interview.KindFinancialProof) {
		t.Errorf("documents = %+v, want passport and financial proof", got.Documents)
	}

	wantStatus(t, env.do(t, "GET", base+"/verdict", ""), http.StatusConflict)

	resp = env.do(t, "POST", base+"/end", "")
	wantStatus(t, resp, http.StatusOK)
	v := decodeBody[decision.Verdict](t, resp)
	if v.Decision != decision.Denied || v.Reason != "No interview conducted" {
		t.Errorf("verdict = %+v", v)
	}

	resp = env.do(t, "GET", base+"/verdict", "")
	wantStatus(t, resp, http.StatusOK)
	if again := decodeBody[decision.Verdict](t, resp); again.Reason != v.Reason {
		t.Errorf("second verdict differs: %+v", again)
	}

	wantStatus(t, env.do(t, "POST", base+"/documents", `{"documents": {"passport": "x"}}`), http.StatusConflict)
}

func TestSession_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, p := range []string{"", "/verdict", "/transcript"} {
		wantStatus(t, env.do(t, "GET", "/api/sessions/missing"+p, ""), http.StatusNotFound)
	}
	wantStatus(t, env.do(t, "POST", "/api/sessions/missing/end", ""), http.StatusNotFound)
}

func TestSession_Capacity(t *testing.T) {
	env := newTestEnv(t, nil)
	wantStatus(t, env.do(t, "POST", "/api/sessions", ""), http.StatusCreated)
	wantStatus(t, env.do(t, "POST", "/api/sessions", ""), http.StatusCreated)
	wantStatus(t, env.do(t, "POST", "/api/sessions", ""), http.StatusServiceUnavailable)
}

func TestSession_AddDocumentsRequiresDocuments(t *testing.T) {
	env := newTestEnv(t, nil)
	created := decodeBody[sessionResponse](t, env.do(t, "POST", "/api/sessions", ""))
	wantStatus(t, env.do(t, "POST", "/api/sessions/"+created.ID+"/documents", `{}`), http.StatusBadRequest)
}

func TestSession_TranscriptOverWebSocket(t *testing.T) {
	env := newTestEnv(t, nil)
	created := decodeBody[sessionResponse](t, env.do(t, "POST", "/api/sessions", `{"documents": {"passport": "p.pdf"}}`))
	base := "/api/sessions/" + created.ID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(env.srv.URL, "http")+base+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	next := func(typ string) wsbridge.Message {
		t.Helper()
		for {
			var m wsbridge.Message
			if err := wsjson.Read(ctx, conn, &m); err != nil {
				t.Fatalf("waiting for %s: %v", typ, err)
			}
			if m.Type == typ {
				return m
			}
		}
	}
	send := func(m wsbridge.Message) {
		t.Helper()
		if err := wsjson.Write(ctx, conn, m); err != nil {
			t.Fatalf("write %s: %v", m.Type, err)
		}
	}

	next(wsbridge.TypeState)
	send(wsbridge.Message{Type: wsbridge.TypeStart})
	greeting := next(wsbridge.TypeSpeak)
	send(wsbridge.Message{Type: wsbridge.TypePlaybackDone, ID: greeting.ID})

	listen := next(wsbridge.TypeListen)
	send(wsbridge.Message{Type: wsbridge.TypeSegment, Capture: listen.Capture, Text: "I am visiting Japan", Final: true})
	send(wsbridge.Message{Type: wsbridge.TypeCaptureEnd, Capture: listen.Capture, Reason: "silence"})
	next(wsbridge.TypeSpeak)

	resp := env.do(t, "GET", base+"/transcript", "")
	wantStatus(t, resp, http.StatusOK)
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "visa-interview-") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	text, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"Consular Officer: ", "Applicant: I am visiting Japan", "What is the purpose of your trip?"} {
		if !strings.Contains(string(text), want) {
			t.Errorf("transcript missing %q:\n%s", want, text)
		}
	}
}

func TestStaticDir_ServesIndexFallback(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>visaroom</h1>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644); err != nil {
		t.Fatal(err)
	}
	env := newTestEnv(t, func(c *Config) { c.StaticDir = dir })

	resp := env.do(t, "GET", "/app.js", "")
	wantStatus(t, resp, http.StatusOK)
	if b, _ := io.ReadAll(resp.Body); string(b) != "console.log(1)" {
		t.Errorf("app.js body = %q", b)
	}

	resp = env.do(t, "GET", "/interview/room", "")
	wantStatus(t, resp, http.StatusOK)
	if b, _ := io.ReadAll(resp.Body); !strings.Contains(string(b), "visaroom") {
		t.Errorf("fallback body = %q", b)
	}
}

func TestStaticDir_RequiresIndex(t *testing.T) {
	_, err := New(Config{Replier: &stubReplier{}, Sessions: &session.Registry{}, StaticDir: t.TempDir()})
	if err == nil {
		t.Fatal("New accepted a static dir without index.html")
	}
}

package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/academyhq/academy/internal/accrual"
	"github.com/academyhq/academy/internal/config"
	"github.com/academyhq/academy/internal/content"
	"github.com/academyhq/academy/internal/domain"
	"github.com/academyhq/academy/internal/grading"
	"github.com/academyhq/academy/internal/progress"
	"github.com/academyhq/academy/internal/storage/local"
	"github.com/academyhq/academy/internal/storage/sqlite"
)

const testAssignment = "ch01-01"

// fakeGrader answers every request with canned verdicts
type fakeGrader struct {
	mu       sync.Mutex
	correct  bool
	err      error
	asked    []grading.MentorRequest
	answered []grading.AnswerRequest
}

func (g *fakeGrader) GradeAnswer(ctx context.Context, req grading.AnswerRequest) (grading.AnswerVerdict, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.answered = append(g.answered, req)
	if g.err != nil {
		return grading.AnswerVerdict{}, g.err
	}
	return grading.AnswerVerdict{Correct: g.correct, Feedback: "looks right"}, nil
}

func (g *fakeGrader) GradeCode(ctx context.Context, req grading.CodeRequest) (grading.CodeVerdict, error) {
	if g.err != nil {
		return grading.CodeVerdict{}, g.err
	}
	return grading.CodeVerdict{Score: 80, Correct: true, Feedback: "filters correctly"}, nil
}

func (g *fakeGrader) Ask(ctx context.Context, req grading.MentorRequest) (grading.MentorReply, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.asked = append(g.asked, req)
	if g.err != nil {
		return grading.MentorReply{}, g.err
	}
	return grading.MentorReply{Answer: "OR keeps results matching any term."}, nil
}

// fakeHistory returns a fixed set of events
type fakeHistory struct {
	events []domain.ProgressEvent
	last   sqlite.EventQuery
}

func (h *fakeHistory) Query(ctx context.Context, q sqlite.EventQuery) ([]domain.ProgressEvent, error) {
	h.last = q
	return h.events, nil
}

func newTestServer(t *testing.T, grader grading.Grader, history EventHistory) *Server {
	t.Helper()

	catalog := content.NewRegistry(content.NewLoader(filepath.Join("..", "content", "testdata")))
	if err := catalog.Load(); err != nil {
		t.Fatalf("load content: %v", err)
	}

	store, err := local.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	tracker := progress.NewTracker(store.Collection("work_records"), progress.TrackerConfig{
		LearnerID: "learner-1",
		Source:    catalog,
	})

	if grader == nil {
		grader = &fakeGrader{correct: true}
	}
	return NewServer(ServerConfig{
		Config:    config.DefaultLocalConfig(),
		Tracker:   tracker,
		Catalog:   catalog,
		Grader:    grader,
		History:   history,
		Providers: []string{"fake"},
	})
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestServer_HealthAndStatus(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := do(t, s, http.MethodGet, "/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}

	rec = do(t, s, http.MethodGet, "/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	status := decodeBody[map[string]any](t, rec)
	if status["version"] != Version {
		t.Errorf("version = %v, want %s", status["version"], Version)
	}
	if status["content_loaded"] != true {
		t.Errorf("content_loaded = %v, want true", status["content_loaded"])
	}
	if status["storage_backend"] != config.StorageLocal {
		t.Errorf("storage_backend = %v", status["storage_backend"])
	}
}

func TestServer_ContentRoutes(t *testing.T) {
	s := newTestServer(t, nil, nil)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"chapters", "/v1/chapters", http.StatusOK, "Sourcing Fundamentals"},
		{"chapter assignments", "/v1/chapters/ch01/assignments", http.StatusOK, testAssignment},
		{"unknown chapter", "/v1/chapters/ch99/assignments", http.StatusNotFound, "chapter not found"},
		{"assignment content", "/v1/chapters/ch01/assignments/1", http.StatusOK, "Boolean Search Strings"},
		{"bad number", "/v1/chapters/ch01/assignments/one", http.StatusBadRequest, ""},
		{"missing assignment", "/v1/chapters/ch01/assignments/42", http.StatusNotFound, ""},
		{"search", "/v1/search?q=boolean", http.StatusOK, testAssignment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodGet, tt.path, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body %s does not contain %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestServer_ProgressLifecycle(t *testing.T) {
	s := newTestServer(t, nil, nil)
	base := "/v1/assignments/" + testAssignment

	rec := do(t, s, http.MethodPost, base+"/start", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d: %s", rec.Code, rec.Body.String())
	}
	view := decodeBody[progressView](t, rec)
	if view.Record.Status != domain.StatusInProgress {
		t.Errorf("status after start = %s", view.Record.Status)
	}

	rec = do(t, s, http.MethodPut, base+"/exercises/ex1/steps/ex1-s1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("mark step status = %d: %s", rec.Code, rec.Body.String())
	}
	view = decodeBody[progressView](t, rec)
	if view.Stats == nil || view.Stats.CompletedSteps != 1 {
		t.Errorf("stats after mark = %+v", view.Stats)
	}
	if view.CanComplete {
		t.Error("CanComplete = true with ex2 untouched")
	}

	// ex2 has no completed step yet
	rec = do(t, s, http.MethodPost, base+"/complete", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("early complete status = %d, want 409", rec.Code)
	}

	rec = do(t, s, http.MethodPut, base+"/exercises/ex2/steps/ex2-s1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("mark second step status = %d", rec.Code)
	}
	rec = do(t, s, http.MethodPost, base+"/complete", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete status = %d: %s", rec.Code, rec.Body.String())
	}
	view = decodeBody[progressView](t, rec)
	if view.Record.Status != domain.StatusCompleted || view.Record.CompletedAt == nil {
		t.Errorf("record after complete = %+v", view.Record)
	}

	rec = do(t, s, http.MethodGet, "/v1/assignments", nil)
	list := decodeBody[map[string][]string](t, rec)
	if len(list["assignments"]) != 1 || list["assignments"][0] != testAssignment {
		t.Errorf("assignments = %v", list["assignments"])
	}

	rec = do(t, s, http.MethodGet, "/v1/stats", nil)
	summary := decodeBody[progress.Summary](t, rec)
	if summary.Assignments != 1 || summary.ByStatus[domain.StatusCompleted] != 1 {
		t.Errorf("summary = %+v", summary)
	}

	rec = do(t, s, http.MethodDelete, base, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("reset status = %d", rec.Code)
	}
	rec = do(t, s, http.MethodGet, base, nil)
	view = decodeBody[progressView](t, rec)
	if view.Record.Status != domain.StatusNotStarted {
		t.Errorf("status after reset = %s", view.Record.Status)
	}
}

func TestServer_MutationErrors(t *testing.T) {
	s := newTestServer(t, nil, nil)
	base := "/v1/assignments/" + testAssignment

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"unknown assignment start", http.MethodPost, "/v1/assignments/ch09-09/start", http.StatusNotFound},
		{"unknown exercise", http.MethodPost, base + "/exercises/ex9/start", http.StatusBadRequest},
		{"unknown step", http.MethodPut, base + "/exercises/ex1/steps/ex2-s1", http.StatusBadRequest},
		{"hint", http.MethodPost, base + "/exercises/ex1/hints", http.StatusOK},
		{"solution step", http.MethodPost, base + "/exercises/ex2/solution-steps", http.StatusOK},
		{"check", http.MethodPut, base + "/exercises/ex1/checks/ex1-v1-0", http.StatusOK},
		{"uncheck", http.MethodDelete, base + "/exercises/ex1/checks/ex1-v1-0", http.StatusOK},
		{"unmark", http.MethodDelete, base + "/exercises/ex1/steps/ex1-s1", http.StatusOK},
		{"complete unknown", http.MethodPost, "/v1/assignments/ch09-09/complete", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, tt.method, tt.path, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}

	rec := do(t, s, http.MethodGet, base, nil)
	view := decodeBody[progressView](t, rec)
	if view.Record.TotalHintsUsed != 1 || view.Record.TotalSolutionReveals != 1 {
		t.Errorf("counters = %d hints, %d reveals", view.Record.TotalHintsUsed, view.Record.TotalSolutionReveals)
	}
}

func TestServer_SubmitAnswer(t *testing.T) {
	grader := &fakeGrader{correct: true}
	s := newTestServer(t, grader, nil)
	path := "/v1/assignments/" + testAssignment + "/exercises/ex1/answers/ex1-w1"

	rec := do(t, s, http.MethodPost, path, map[string]string{"answer": "It matches any synonym"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	result := decodeBody[grading.AnswerResult](t, rec)
	if !result.Graded || !result.Verdict.Correct {
		t.Errorf("result = %+v", result)
	}
	answer := result.Record.Exercises["ex1"].WriteItDownAnswers["ex1-w1"]
	if answer.Answer != "It matches any synonym" || answer.Attempts != 1 {
		t.Errorf("recorded answer = %+v", answer)
	}
	if len(grader.answered) != 1 || grader.answered[0].CorrectAnswer == "" {
		t.Errorf("grader requests = %+v", grader.answered)
	}

	tests := []struct {
		name       string
		path       string
		body       any
		wantStatus int
	}{
		{"empty answer", path, map[string]string{"answer": "  "}, http.StatusBadRequest},
		{"code block", "/v1/assignments/" + testAssignment + "/exercises/ex2/answers/ex2-c1", map[string]string{"answer": "x"}, http.StatusBadRequest},
		{"malformed body", path, "not an object", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestServer_SubmitCodeOnce(t *testing.T) {
	s := newTestServer(t, nil, nil)
	path := "/v1/assignments/" + testAssignment + "/exercises/ex2/code/ex2-c1"
	body := map[string]string{"code": "SELECT * FROM candidates WHERE years_experience > 5"}

	rec := do(t, s, http.MethodPost, path, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	result := decodeBody[grading.CodeResult](t, rec)
	if result.Verdict.Score != 80 {
		t.Errorf("score = %d, want 80", result.Verdict.Score)
	}

	rec = do(t, s, http.MethodPost, path, body)
	if rec.Code != http.StatusConflict {
		t.Errorf("second submit status = %d, want 409", rec.Code)
	}
}

func TestServer_Discussion(t *testing.T) {
	grader := &fakeGrader{correct: false}
	s := newTestServer(t, grader, nil)
	base := "/v1/assignments/" + testAssignment + "/exercises/ex1/answers/ex1-w1"

	rec := do(t, s, http.MethodPost, base+"/discussion", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("explain before answering status = %d, want 400", rec.Code)
	}

	do(t, s, http.MethodPost, base, map[string]string{"answer": "AND"})

	rec = do(t, s, http.MethodPost, base+"/discussion", map[string]string{})
	if rec.Code != http.StatusOK {
		t.Fatalf("explain status = %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(t, s, http.MethodPost, base+"/discussion", map[string]string{"message": "why not AND?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("send status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[struct {
		Reply   string                `json:"reply"`
		History []grading.ChatMessage `json:"history"`
	}](t, rec)
	if resp.Reply == "" || len(resp.History) != 3 {
		t.Errorf("reply = %q, history = %d turns", resp.Reply, len(resp.History))
	}
	if got := grader.asked[len(grader.asked)-1].LessonID; got != testAssignment {
		t.Errorf("lessonId = %q, want %s", got, testAssignment)
	}

	rec = do(t, s, http.MethodPost, "/v1/assignments/"+testAssignment+"/exercises/ex1/answers/ex1-s1/discussion", map[string]string{"message": "hi"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("discussion on a step status = %d, want 404", rec.Code)
	}

	// reset forgets the conversation
	do(t, s, http.MethodDelete, "/v1/assignments/"+testAssignment, nil)
	s.discMu.Lock()
	n := len(s.discussions)
	s.discMu.Unlock()
	if n != 0 {
		t.Errorf("%d discussions survive reset", n)
	}
}

func TestServer_GradingWire(t *testing.T) {
	tests := []struct {
		name       string
		grader     *fakeGrader
		path       string
		body       any
		wantStatus int
		wantBody   string
	}{
		{
			name:       "grade answer",
			grader:     &fakeGrader{correct: true},
			path:       "/v1/ai/grade-answer",
			body:       grading.AnswerRequest{Question: "q", CorrectAnswer: "a", StudentAnswer: "a"},
			wantStatus: http.StatusOK,
			wantBody:   `"correct":true`,
		},
		{
			name:       "empty student answer",
			grader:     &fakeGrader{},
			path:       "/v1/ai/grade-answer",
			body:       grading.AnswerRequest{Question: "q"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "grade code",
			grader:     &fakeGrader{},
			path:       "/v1/ai/grade-code",
			body:       grading.CodeRequest{Language: "sql", StudentCode: "SELECT 1"},
			wantStatus: http.StatusOK,
			wantBody:   `"score":80`,
		},
		{
			name:       "mentor",
			grader:     &fakeGrader{},
			path:       "/v1/ai/mentor",
			body:       grading.MentorRequest{Message: "help", LessonID: testAssignment},
			wantStatus: http.StatusOK,
			wantBody:   `"answer"`,
		},
		{
			name:       "grader failure",
			grader:     &fakeGrader{err: errors.New("upstream down")},
			path:       "/v1/ai/mentor",
			body:       grading.MentorRequest{Message: "help"},
			wantStatus: http.StatusBadGateway,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.grader, nil)
			rec := do(t, s, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body %s does not contain %s", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestServer_ActiveExercise(t *testing.T) {
	s := newTestServer(t, nil, nil)

	tests := []struct {
		name       string
		target     accrual.Target
		wantStatus int
		wantActive bool
	}{
		{"set", accrual.Target{AssignmentID: testAssignment, ExerciseID: "ex2"}, http.StatusOK, true},
		{"unknown exercise", accrual.Target{AssignmentID: testAssignment, ExerciseID: "ex9"}, http.StatusBadRequest, true},
		{"unknown assignment", accrual.Target{AssignmentID: "ch09-09", ExerciseID: "ex1"}, http.StatusNotFound, true},
		{"clear", accrual.Target{}, http.StatusOK, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPut, "/v1/active", tt.target)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if _, ok := s.Active().Active(); ok != tt.wantActive {
				t.Errorf("active = %v, want %v", ok, tt.wantActive)
			}
		})
	}

	do(t, s, http.MethodPut, "/v1/active", accrual.Target{AssignmentID: testAssignment, ExerciseID: "ex1"})
	rec := do(t, s, http.MethodGet, "/v1/active", nil)
	got := decodeBody[struct {
		Active bool           `json:"active"`
		Target accrual.Target `json:"target"`
	}](t, rec)
	if !got.Active || got.Target.ExerciseID != "ex1" {
		t.Errorf("GET /v1/active = %+v", got)
	}

	// resetting the active assignment stops accrual
	do(t, s, http.MethodDelete, "/v1/assignments/"+testAssignment, nil)
	if _, ok := s.Active().Active(); ok {
		t.Error("active exercise survives reset")
	}
}

func TestServer_Events(t *testing.T) {
	t.Run("not served without history", func(t *testing.T) {
		s := newTestServer(t, nil, nil)
		rec := do(t, s, http.MethodGet, "/v1/events", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("query", func(t *testing.T) {
		history := &fakeHistory{events: []domain.ProgressEvent{
			domain.NewProgressEvent(domain.EventStepMarked, testAssignment, "ex1", "ex1-s1"),
		}}
		s := newTestServer(t, nil, history)

		rec := do(t, s, http.MethodGet, "/v1/events?assignment="+testAssignment+"&type=step.marked&limit=5", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		if history.last.AssignmentID != testAssignment || history.last.Limit != 5 || history.last.Type != domain.EventStepMarked {
			t.Errorf("query = %+v", history.last)
		}
		got := decodeBody[map[string][]domain.ProgressEvent](t, rec)
		if len(got["events"]) != 1 {
			t.Errorf("events = %v", got["events"])
		}
	})

	t.Run("bad limit", func(t *testing.T) {
		s := newTestServer(t, nil, &fakeHistory{})
		rec := do(t, s, http.MethodGet, "/v1/events?limit=-1", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrAssignmentNotFound, http.StatusNotFound},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrInvalidInput, http.StatusBadRequest},
		{progress.ErrUnknownExercise, http.StatusBadRequest},
		{progress.ErrNotCompletable, http.StatusConflict},
		{progress.ErrStaleResult, http.StatusConflict},
		{grading.ErrSubmissionInFlight, http.StatusConflict},
		{grading.ErrReplyPending, http.StatusConflict},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestBootstrap_LocalBackends(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultLocalConfig()
	cfg.Resolve(dir)
	cfg.Content.Path = filepath.Join("..", "content", "testdata")
	cfg.LLM.Providers = nil

	rt, err := Bootstrap(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	t.Cleanup(func() { rt.Close() })

	if rt.history == nil {
		t.Fatal("event history not opened")
	}
	if rt.outbox != nil || rt.consumer != nil {
		t.Error("broker wiring enabled without configuration")
	}

	ctx := context.Background()
	if _, err := rt.Tracker.MarkStepDone(ctx, testAssignment, "ex1", "ex1-s1"); err != nil {
		t.Fatalf("MarkStepDone() error = %v", err)
	}
	n, err := rt.history.Count(ctx, domain.EventStepMarked)
	if err != nil || n != 1 {
		t.Errorf("history Count() = %d, %v; want 1", n, err)
	}

	rec := do(t, rt.Server, http.MethodGet, "/v1/events?assignment="+testAssignment, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("events status = %d", rec.Code)
	}
}

func TestBootstrap_WithoutContent(t *testing.T) {
	cfg := config.DefaultLocalConfig()
	cfg.Resolve(t.TempDir())
	cfg.Content.Path = filepath.Join(t.TempDir(), "missing")
	cfg.LLM.Providers = nil

	rt, err := Bootstrap(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	t.Cleanup(func() { rt.Close() })

	if rt.Catalog.IsLoaded() {
		t.Fatal("catalog should not be loaded")
	}
	w, err := rt.Tracker.MarkStepDone(context.Background(), "ch09-01", "ex1", "s1")
	if err != nil {
		t.Fatalf("MarkStepDone() without content error = %v", err)
	}
	if !w.Exercises["ex1"].StepsCompleted.Has("s1") {
		t.Error("step not recorded")
	}
}

func TestBootstrap_UnknownBackend(t *testing.T) {
	cfg := config.DefaultLocalConfig()
	cfg.Resolve(t.TempDir())
	cfg.Storage.Backend = "floppy"

	if _, err := Bootstrap(context.Background(), cfg); err == nil {
		t.Fatal("Bootstrap() error = nil, want unknown backend error")
	}
}

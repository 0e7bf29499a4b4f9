package grading

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/academyhq/academy/internal/llm"
)

type mockProvider struct {
	resp    *llm.Response
	err     error
	lastReq *llm.Request
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Generate(_ context.Context, req *llm.Request) (*llm.Response, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

func newTestLLMGrader(p *mockProvider) *LLMGrader {
	r := llm.NewRegistry()
	r.Register("mock", p)
	return NewLLMGrader(r, "")
}

func TestLLMGrader_GradeAnswer(t *testing.T) {
	p := &mockProvider{resp: &llm.Response{ToolInput: []byte(`{"correct":true,"feedback":"yes"}`)}}
	g := newTestLLMGrader(p)

	v, err := g.GradeAnswer(context.Background(), AnswerRequest{Question: "What is P(heads)?", CorrectAnswer: "0.5", StudentAnswer: "one half"})
	if err != nil {
		t.Fatalf("GradeAnswer() error = %v", err)
	}
	if !v.Correct || v.Feedback != "yes" {
		t.Errorf("verdict = %+v", v)
	}
	if p.lastReq.Tool == nil || p.lastReq.Tool.Name != "record_answer_verdict" {
		t.Errorf("Tool = %+v", p.lastReq.Tool)
	}
	if !strings.Contains(p.lastReq.Messages[0].Content, "one half") {
		t.Error("prompt should include the student answer")
	}
}

func TestLLMGrader_GradeCode(t *testing.T) {
	p := &mockProvider{resp: &llm.Response{Content: `Here you go: {"score":-5,"correct":false,"feedback":"does not compile"}`}}
	g := newTestLLMGrader(p)

	v, err := g.GradeCode(context.Background(), CodeRequest{Language: "go", StudentCode: "func main("})
	if err != nil {
		t.Fatalf("GradeCode() error = %v", err)
	}
	if v.Score != 0 || v.Feedback != "does not compile" {
		t.Errorf("verdict = %+v", v)
	}
}

func TestLLMGrader_Failures(t *testing.T) {
	tests := []struct {
		name string
		p    *mockProvider
	}{
		{"provider error", &mockProvider{err: errors.New("status 503")}},
		{"unstructured reply", &mockProvider{resp: &llm.Response{Content: "Looks good to me"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := newTestLLMGrader(tt.p).GradeAnswer(context.Background(), AnswerRequest{}); err == nil {
				t.Error("GradeAnswer() should fail")
			}
		})
	}

	g := NewLLMGrader(llm.NewRegistry(), "")
	if _, err := g.GradeCode(context.Background(), CodeRequest{}); !errors.Is(err, llm.ErrNoDefaultProvider) {
		t.Errorf("GradeCode() error = %v, want ErrNoDefaultProvider", err)
	}
}

func TestLLMGrader_Ask(t *testing.T) {
	p := &mockProvider{resp: &llm.Response{Content: "  Consider the sample space.  "}}
	g := newTestLLMGrader(p)

	r, err := g.Ask(context.Background(), MentorRequest{
		Message: "I don't get it",
		ConversationHistory: []ChatMessage{
			{Role: "assistant", Content: "You missed the denominator."},
			{Role: "user", Content: "which one?"},
			{Role: "assistant", Content: "The total outcomes."},
		},
		LessonID: "ch01-01",
	})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if r.Answer != "Consider the sample space." {
		t.Errorf("Answer = %q", r.Answer)
	}
	if len(p.lastReq.Messages) != 4 || p.lastReq.Messages[0].Role != llm.RoleAssistant || p.lastReq.Messages[3].Content != "I don't get it" {
		t.Errorf("messages = %+v", p.lastReq.Messages)
	}
	if p.lastReq.Tool != nil {
		t.Error("mentor replies are free text")
	}
}

func TestPrompter(t *testing.T) {
	p := NewPrompter()

	answer := p.AnswerPrompt(AnswerRequest{Question: "Q?", StudentAnswer: "S"})
	if !strings.Contains(answer, "(none provided)") {
		t.Error("missing reference answer should be marked")
	}

	code := p.CodePrompt(CodeRequest{Language: "python", Prompt: "sum a list", StudentCode: "sum(xs)", ExerciseContext: "Lists"})
	for _, want := range []string{"## Exercise", "sum a list", "```python\nsum(xs)"} {
		if !strings.Contains(code, want) {
			t.Errorf("code prompt missing %q", want)
		}
	}
	if strings.Contains(code, "Reference Solution") {
		t.Error("empty reference solution should be omitted")
	}

	explain := p.ExplainPrompt("Q", "S", "", "F")
	if !strings.Contains(explain, "**Correct Answer:** Not provided") {
		t.Errorf("explain prompt = %q", explain)
	}
	if !strings.Contains(p.MentorSystemPrompt("ch01-01"), "ch01-01") {
		t.Error("mentor system prompt should name the assignment")
	}
}

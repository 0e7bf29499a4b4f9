package grading

import (
	"context"
	"fmt"
	"strings"

	"github.com/academyhq/academy/internal/llm"
)

// LLMGrader grades in-process through the provider registry
type LLMGrader struct {
	registry llm.LLMRegistry
	provider string
	prompter *Prompter
}

// NewLLMGrader creates a grader that uses the named provider, or the
// registry default when provider is empty
func NewLLMGrader(registry llm.LLMRegistry, provider string) *LLMGrader {
	return &LLMGrader{
		registry: registry,
		provider: provider,
		prompter: NewPrompter(),
	}
}

var (
	answerTool = &llm.Tool{
		Name:        "record_answer_verdict",
		Description: "Record whether the student's written answer is correct",
		Schema:      llm.SchemaFor[AnswerVerdict](),
	}
	codeTool = &llm.Tool{
		Name:        "record_code_verdict",
		Description: "Record the score and feedback for the student's code",
		Schema:      llm.SchemaFor[CodeVerdict](),
	}
)

func (g *LLMGrader) GradeAnswer(ctx context.Context, req AnswerRequest) (AnswerVerdict, error) {
	var v AnswerVerdict
	err := g.structured(ctx, &llm.Request{
		System:      g.prompter.AnswerSystemPrompt(),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: g.prompter.AnswerPrompt(req)}},
		MaxTokens:   512,
		Temperature: 0.2,
		Tool:        answerTool,
	}, &v)
	if err != nil {
		return AnswerVerdict{}, fmt.Errorf("grade answer: %w", err)
	}
	return v, nil
}

func (g *LLMGrader) GradeCode(ctx context.Context, req CodeRequest) (CodeVerdict, error) {
	var v CodeVerdict
	err := g.structured(ctx, &llm.Request{
		System:      g.prompter.CodeSystemPrompt(),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: g.prompter.CodePrompt(req)}},
		MaxTokens:   1024,
		Temperature: 0.2,
		Tool:        codeTool,
	}, &v)
	if err != nil {
		return CodeVerdict{}, fmt.Errorf("grade code: %w", err)
	}
	v.Score = clampScore(v.Score)
	return v, nil
}

func (g *LLMGrader) Ask(ctx context.Context, req MentorRequest) (MentorReply, error) {
	p, err := g.resolve()
	if err != nil {
		return MentorReply{}, err
	}

	messages := make([]llm.Message, 0, len(req.ConversationHistory)+1)
	for _, m := range req.ConversationHistory {
		role := llm.RoleUser
		if m.Role == string(llm.RoleAssistant) {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.Message})

	resp, err := p.Generate(ctx, &llm.Request{
		System:      g.prompter.MentorSystemPrompt(req.LessonID),
		Messages:    messages,
		MaxTokens:   1024,
		Temperature: 0.7,
	})
	if err != nil {
		return MentorReply{}, fmt.Errorf("mentor reply: %w", err)
	}
	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		return MentorReply{}, fmt.Errorf("mentor reply: %w", llm.ErrNoStructuredReply)
	}
	return MentorReply{Answer: answer}, nil
}

func (g *LLMGrader) structured(ctx context.Context, req *llm.Request, v any) error {
	p, err := g.resolve()
	if err != nil {
		return err
	}
	resp, err := p.Generate(ctx, req)
	if err != nil {
		return err
	}
	return resp.Decode(v)
}

func (g *LLMGrader) resolve() (llm.Provider, error) {
	var (
		p   llm.Provider
		err error
	)
	if g.provider != "" {
		p, err = g.registry.Get(g.provider)
	} else {
		p, err = g.registry.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("get LLM provider: %w", err)
	}
	return p, nil
}

var _ Grader = (*LLMGrader)(nil)

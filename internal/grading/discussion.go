package grading

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	explainApology = "I had trouble loading the explanation. Please try again."
	replyApology   = "Sorry, I had trouble responding."
)

// Discussion is a mentor conversation about one question. Only one mentor
// reply may be pending at a time.
type Discussion struct {
	mentor   Mentor
	lessonID string
	prompter *Prompter

	pending   atomic.Bool
	mu        sync.Mutex
	history   []ChatMessage
	explained bool
}

// NewDiscussion starts an empty discussion for an assignment
func NewDiscussion(mentor Mentor, lessonID string) *Discussion {
	return &Discussion{mentor: mentor, lessonID: lessonID, prompter: NewPrompter()}
}

// Explain asks the mentor why an answer was marked wrong. The explanation
// opens the conversation and is only fetched once successfully.
func (d *Discussion) Explain(ctx context.Context, question, studentAnswer, referenceAnswer, feedback string) (string, error) {
	if !d.pending.CompareAndSwap(false, true) {
		return "", ErrReplyPending
	}
	defer d.pending.Store(false)

	d.mu.Lock()
	if d.explained {
		first := d.history[0].Content
		d.mu.Unlock()
		return first, nil
	}
	d.mu.Unlock()

	reply, err := d.mentor.Ask(ctx, MentorRequest{
		Message:             d.prompter.ExplainPrompt(question, studentAnswer, referenceAnswer, feedback),
		ConversationHistory: []ChatMessage{},
		LessonID:            d.lessonID,
	})

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		slog.Warn("mentor explanation failed", "lesson", d.lessonID, "error", err)
		d.history = []ChatMessage{{Role: "assistant", Content: explainApology}}
		return explainApology, nil
	}
	d.history = []ChatMessage{{Role: "assistant", Content: reply.Answer}}
	d.explained = true
	return reply.Answer, nil
}

// Send asks a follow-up question. A failed reply is replaced by an apology
// so the conversation always alternates.
func (d *Discussion) Send(ctx context.Context, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", ErrEmptySubmission
	}
	if !d.pending.CompareAndSwap(false, true) {
		return "", ErrReplyPending
	}
	defer d.pending.Store(false)

	d.mu.Lock()
	history := append([]ChatMessage(nil), d.history...)
	d.history = append(d.history, ChatMessage{Role: "user", Content: message})
	d.mu.Unlock()

	reply, err := d.mentor.Ask(ctx, MentorRequest{
		Message:             message,
		ConversationHistory: history,
		LessonID:            d.lessonID,
	})
	answer := reply.Answer
	if err != nil {
		slog.Warn("mentor reply failed", "lesson", d.lessonID, "error", err)
		answer = replyApology
	}

	d.mu.Lock()
	d.history = append(d.history, ChatMessage{Role: "assistant", Content: answer})
	d.mu.Unlock()
	return answer, nil
}

// Pending reports whether a mentor reply is outstanding
func (d *Discussion) Pending() bool {
	return d.pending.Load()
}

// History returns a copy of the conversation so far
func (d *Discussion) History() []ChatMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ChatMessage(nil), d.history...)
}

// Package grading drives submissions for write-it-down questions and code
// tasks through an external grader and records the verdict on the work record.
package grading

import (
	"context"
	"errors"
)

// FallbackFeedback is recorded when the grader cannot be reached or its
// reply cannot be parsed
const FallbackFeedback = "unable to grade"

var (
	// ErrSubmissionInFlight is returned when a block already has a pending submission
	ErrSubmissionInFlight = errors.New("submission already in flight")

	// ErrAlreadySubmitted is returned when a code task already has a recorded result
	ErrAlreadySubmitted = errors.New("code task already submitted")

	// ErrEmptySubmission is returned for blank answers or code
	ErrEmptySubmission = errors.New("submission is empty")

	// ErrWrongBlockType is returned when a coordinator is requested for a block
	// of the wrong kind
	ErrWrongBlockType = errors.New("block cannot be graded this way")

	// ErrReplyPending is returned when a discussion already awaits a mentor reply
	ErrReplyPending = errors.New("mentor reply pending")
)

// AnswerRequest is the payload sent to the free-text grading service
type AnswerRequest struct {
	Question      string `json:"question"`
	CorrectAnswer string `json:"correctAnswer"`
	StudentAnswer string `json:"studentAnswer"`
}

// AnswerVerdict is the free-text grading result
type AnswerVerdict struct {
	Correct  bool   `json:"correct" jsonschema:"description=Whether the student answer captures the reference answer"`
	Feedback string `json:"feedback" jsonschema:"description=One or two sentences of feedback addressed to the student"`
}

// CodeRequest is the payload sent to the code grading service
type CodeRequest struct {
	Language          string `json:"language"`
	Prompt            string `json:"prompt"`
	StudentCode       string `json:"studentCode"`
	ReferenceSolution string `json:"referenceSolution"`
	ExerciseContext   string `json:"exerciseContext"`
}

// CodeVerdict is the code grading result
type CodeVerdict struct {
	Score       int      `json:"score" jsonschema:"description=Score from 0 to 100,minimum=0,maximum=100"`
	Correct     bool     `json:"correct" jsonschema:"description=Whether the code solves the task"`
	Feedback    string   `json:"feedback" jsonschema:"description=Short feedback addressed to the student"`
	Suggestions []string `json:"suggestions,omitempty" jsonschema:"description=Concrete improvements, if any"`
}

// ChatMessage is one turn of a mentor conversation
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MentorRequest is the payload sent to the mentor chat service
type MentorRequest struct {
	Message             string        `json:"message"`
	ConversationHistory []ChatMessage `json:"conversationHistory"`
	LessonID            string        `json:"lessonId"`
}

// MentorReply is the mentor chat response
type MentorReply struct {
	Answer string `json:"answer"`
}

// AnswerGrader grades free-text answers
type AnswerGrader interface {
	GradeAnswer(ctx context.Context, req AnswerRequest) (AnswerVerdict, error)
}

// CodeGrader grades code submissions
type CodeGrader interface {
	GradeCode(ctx context.Context, req CodeRequest) (CodeVerdict, error)
}

// Mentor answers follow-up questions about an assignment
type Mentor interface {
	Ask(ctx context.Context, req MentorRequest) (MentorReply, error)
}

// Grader is a backend that serves all three services
type Grader interface {
	AnswerGrader
	CodeGrader
	Mentor
}

// clampScore keeps a score within 0..100
func clampScore(s int) int {
	switch {
	case s < 0:
		return 0
	case s > 100:
		return 100
	}
	return s
}

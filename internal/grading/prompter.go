package grading

import (
	"fmt"
	"strings"
)

// Prompter builds prompts for the grading model
type Prompter struct{}

// NewPrompter creates a new prompter
func NewPrompter() *Prompter {
	return &Prompter{}
}

// AnswerSystemPrompt returns the system prompt for free-text grading
func (p *Prompter) AnswerSystemPrompt() string {
	return `You grade short written answers in a hands-on training course.
Compare the student's answer to the reference answer.

RULES:
- Judge meaning, not wording. Paraphrases and extra correct detail are fine.
- Mark the answer incorrect if it misses the central idea or contradicts the reference.
- If no reference answer is given, judge whether the answer is a reasonable response to the question.
- Feedback is one or two sentences addressed to the student. Do NOT reveal the full reference answer.`
}

// CodeSystemPrompt returns the system prompt for code grading
func (p *Prompter) CodeSystemPrompt() string {
	return `You review code written by a student for a hands-on training exercise.

RULES:
- Score from 0 to 100 for how well the code accomplishes the task.
- "correct" is true when the code would solve the task as asked, even if style differs from the reference.
- Compare against the reference solution for intent, not for exact text.
- Feedback is short and addressed to the student.
- Suggestions are concrete and optional. Do NOT paste the reference solution.`
}

// MentorSystemPrompt returns the system prompt for mentor discussions
func (p *Prompter) MentorSystemPrompt(lessonID string) string {
	base := `You are a patient mentor helping a student through a training assignment.
Explain concepts clearly and briefly. Prefer guiding questions over full solutions.`
	if lessonID == "" {
		return base
	}
	return base + "\nThe student is working on assignment " + lessonID + "."
}

// AnswerPrompt builds the user prompt for a free-text answer
func (p *Prompter) AnswerPrompt(req AnswerRequest) string {
	var sb strings.Builder
	sb.WriteString("## Question\n")
	sb.WriteString(req.Question)
	sb.WriteString("\n\n## Reference Answer\n")
	if req.CorrectAnswer == "" {
		sb.WriteString("(none provided)")
	} else {
		sb.WriteString(req.CorrectAnswer)
	}
	sb.WriteString("\n\n## Student Answer\n")
	sb.WriteString(req.StudentAnswer)
	sb.WriteString("\n")
	return sb.String()
}

// CodePrompt builds the user prompt for a code submission
func (p *Prompter) CodePrompt(req CodeRequest) string {
	var sb strings.Builder
	if req.ExerciseContext != "" {
		sb.WriteString("## Exercise\n")
		sb.WriteString(req.ExerciseContext)
		sb.WriteString("\n\n")
	}
	sb.WriteString("## Task\n")
	sb.WriteString(req.Prompt)
	sb.WriteString("\n\n")
	if req.ReferenceSolution != "" {
		sb.WriteString(fmt.Sprintf("## Reference Solution\n```%s\n%s\n```\n\n", req.Language, req.ReferenceSolution))
	}
	sb.WriteString(fmt.Sprintf("## Student Code\n```%s\n%s\n```\n", req.Language, req.StudentCode))
	return sb.String()
}

// ExplainPrompt builds the opening message of a discussion about a missed question
func (p *Prompter) ExplainPrompt(question, studentAnswer, referenceAnswer, feedback string) string {
	if referenceAnswer == "" {
		referenceAnswer = "Not provided"
	}
	return fmt.Sprintf("The student answered an assignment question incorrectly. Help them understand.\n\n"+
		"**Question:** %s\n\n**Student's Answer:** %s\n\n**Correct Answer:** %s\n\n**Feedback:** %s\n\n"+
		"Explain clearly what they missed.", question, studentAnswer, referenceAnswer, feedback)
}

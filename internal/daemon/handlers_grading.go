package daemon

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/academyhq/academy/internal/domain"
	"github.com/academyhq/academy/internal/grading"
)

func (s *Server) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Answer string `json:"answer"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	coord, err := s.hub.Answer(r.Context(), r.PathValue("id"), r.PathValue("ex"), r.PathValue("block"))
	if err != nil {
		s.writeError(w, "cannot grade this block", err)
		return
	}

	result, err := coord.Submit(r.Context(), req.Answer)
	if err != nil {
		s.writeError(w, "answer not recorded", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, result)
}

func (s *Server) handleSubmitCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	coord, err := s.hub.Code(r.Context(), r.PathValue("id"), r.PathValue("ex"), r.PathValue("block"))
	if err != nil {
		s.writeError(w, "cannot grade this block", err)
		return
	}

	result, err := coord.Submit(r.Context(), req.Code)
	if err != nil {
		s.writeError(w, "code not recorded", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, result)
}

// handleDiscussion opens or continues a mentor conversation about a graded
// answer. An empty message asks for the explanation of the verdict.
func (s *Server) handleDiscussion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	assignmentID, exerciseID, blockID := r.PathValue("id"), r.PathValue("ex"), r.PathValue("block")
	a, err := s.catalog.Assignment(r.Context(), assignmentID)
	if err != nil {
		s.writeError(w, "assignment not found", err)
		return
	}
	block, ok := a.Block(blockID)
	if !ok || block.ExerciseID != exerciseID || block.Type != domain.BlockWriteItDown {
		s.writeError(w, "no such question", fmt.Errorf("%w: block %s", domain.ErrNotFound, blockID))
		return
	}

	d := s.discussion(assignmentID, exerciseID, blockID)

	var reply string
	if strings.TrimSpace(req.Message) == "" {
		rec, err := s.tracker.Get(r.Context(), assignmentID)
		if err != nil {
			s.writeError(w, "failed to load work record", err)
			return
		}
		answer, ok := rec.Exercise(exerciseID).WriteItDownAnswers[blockID]
		if !ok {
			s.writeError(w, "answer the question first", fmt.Errorf("no answer recorded: %w", domain.ErrInvalidInput))
			return
		}
		feedback := ""
		if answer.Feedback != nil {
			feedback = *answer.Feedback
		}
		reply, err = d.Explain(r.Context(), block.Question, answer.Answer, block.ReferenceAnswer, feedback)
		if err != nil {
			s.writeError(w, "explanation unavailable", err)
			return
		}
	} else {
		reply, err = d.Send(r.Context(), req.Message)
		if err != nil {
			s.writeError(w, "message not sent", err)
			return
		}
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"reply":   reply,
		"history": d.History(),
	})
}

func (s *Server) discussion(assignmentID, exerciseID, blockID string) *grading.Discussion {
	key := assignmentID + "/" + exerciseID + "/" + blockID

	s.discMu.Lock()
	defer s.discMu.Unlock()
	d, ok := s.discussions[key]
	if !ok {
		d = grading.NewDiscussion(s.grader, assignmentID)
		s.discussions[key] = d
	}
	return d
}

func (s *Server) dropDiscussions(assignmentID string) {
	s.discMu.Lock()
	defer s.discMu.Unlock()
	for key := range s.discussions {
		if strings.HasPrefix(key, assignmentID+"/") {
			delete(s.discussions, key)
		}
	}
}

func (s *Server) handleGradeAnswer(w http.ResponseWriter, r *http.Request) {
	var req grading.AnswerRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.StudentAnswer) == "" {
		s.writeError(w, "studentAnswer is required", grading.ErrEmptySubmission)
		return
	}

	verdict, err := s.grader.GradeAnswer(r.Context(), req)
	if err != nil {
		s.jsonError(w, http.StatusBadGateway, "grading failed", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, verdict)
}

func (s *Server) handleGradeCode(w http.ResponseWriter, r *http.Request) {
	var req grading.CodeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.StudentCode) == "" {
		s.writeError(w, "studentCode is required", grading.ErrEmptySubmission)
		return
	}

	verdict, err := s.grader.GradeCode(r.Context(), req)
	if err != nil {
		s.jsonError(w, http.StatusBadGateway, "grading failed", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, verdict)
}

func (s *Server) handleMentor(w http.ResponseWriter, r *http.Request) {
	var req grading.MentorRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, "message is required", grading.ErrEmptySubmission)
		return
	}

	reply, err := s.grader.Ask(r.Context(), req)
	if err != nil {
		s.jsonError(w, http.StatusBadGateway, "mentor unavailable", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, reply)
}

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/elisa-dev/elisa/internal/gate"
	"github.com/elisa-dev/elisa/internal/orchestrator"
	"github.com/elisa-dev/elisa/internal/session"
	"github.com/elisa-dev/elisa/internal/workspace"
)

func (s *Server) handleCreate(c *gin.Context) {
	sess := s.sessions.Create()
	c.JSON(http.StatusOK, gin.H{"session_id": sess.ID})
}

func (s *Server) handleGet(c *gin.Context) {
	id := c.Param("id")
	sess, err := s.sessions.Get(id)
	if err != nil {
		// The live session may have been cleaned up; fall back to the archive.
		if arch := s.sessions.Archive(); arch != nil {
			if rec, aerr := arch.Get(c.Request.Context(), id); aerr == nil {
				c.JSON(http.StatusOK, gin.H{
					"session_id": rec.SessionID,
					"state":      rec.Phase,
					"archived":   true,
					"summary":    rec,
				})
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"detail": "Session not found"})
		return
	}

	resp := gin.H{
		"session_id": sess.ID,
		"state":      string(sess.Phase()),
		"created_at": sess.CreatedAt,
	}
	if orch := sess.Orchestrator(); orch != nil {
		resp["budget"] = orch.Budget()
		resp["health"] = orch.HealthSummary()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStart(c *gin.Context) {
	var req session.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request body"})
		return
	}

	err := s.sessions.Start(c.Param("id"), &req)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "started"})
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": "Session not found"})
	case errors.Is(err, session.ErrAlreadyStarted):
		c.JSON(http.StatusConflict, gin.H{"detail": "Session already started"})
	case errors.Is(err, workspace.ErrPathRejected):
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid workspace path"})
	default:
		var specErr *session.SpecError
		if errors.As(err, &specErr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"detail": "Invalid NuggetSpec",
				"errors": specErr.Errors,
			})
			return
		}
		s.logger.Error("start failed", zap.String("session_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to start session"})
	}
}

func (s *Server) handleStop(c *gin.Context) {
	if err := s.sessions.Stop(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (s *Server) handleTasks(c *gin.Context) {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Session not found"})
		return
	}
	orch := sess.Orchestrator()
	if orch == nil {
		c.JSON(http.StatusOK, gin.H{"tasks": []any{}})
		return
	}
	tasks := orch.Tasks()
	if tasks == nil {
		c.JSON(http.StatusOK, gin.H{"tasks": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (s *Server) handleGit(c *gin.Context) {
	orch, ok := s.requireOrchestrator(c)
	if !ok {
		return
	}
	log, err := orch.GitLog(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to read git log"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"commits": log})
}

func (s *Server) handleTests(c *gin.Context) {
	orch, ok := s.requireOrchestrator(c)
	if !ok {
		return
	}
	report := orch.TestReport()
	if report == nil {
		c.JSON(http.StatusOK, gin.H{"results": []any{}, "coverage": 0})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleGate(c *gin.Context) {
	var body struct {
		Approved bool   `json:"approved"`
		Feedback string `json:"feedback,omitempty"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request body"})
		return
	}
	err := s.sessions.RespondToGate(c.Param("id"), body.Approved, body.Feedback)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": "Session not found"})
	case errors.Is(err, gate.ErrNoGatePending):
		c.JSON(http.StatusConflict, gin.H{"detail": "No gate pending"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to deliver gate response"})
	}
}

func (s *Server) handleQuestion(c *gin.Context) {
	var body struct {
		TaskID  string `json:"task_id"`
		Answers any    `json:"answers"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request body"})
		return
	}
	raw, err := json.Marshal(body.Answers)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid answers"})
		return
	}
	err = s.sessions.RespondToQuestion(c.Param("id"), body.TaskID, raw)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": "Session not found"})
	case errors.Is(err, gate.ErrNoQuestion):
		c.JSON(http.StatusConflict, gin.H{"detail": "No question pending"})
	case errors.Is(err, gate.ErrWrongTask):
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Answers are for a different task"})
	case errors.Is(err, gate.ErrInvalidAnswers):
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Answers do not match the question schema"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to deliver answers"})
	}
}

func (s *Server) handleExport(c *gin.Context) {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Session not found"})
		return
	}
	dir, userWorkspace := sess.WorkspaceDir()
	if dir == "" {
		c.JSON(http.StatusNotFound, gin.H{"detail": "No workspace for this session"})
		return
	}
	// Orchestrator-created workspaces must live under the OS temp dir;
	// anything else is not ours to ship.
	if !userWorkspace && !workspace.IsUnderTemp(dir) {
		c.JSON(http.StatusForbidden, gin.H{"detail": "Workspace is outside the temp directory"})
		return
	}

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sess.ID+".zip"))
	if err := workspace.ExportZip(dir, c.Writer); err != nil {
		s.logger.Error("export failed", zap.String("session_id", sess.ID), zap.Error(err))
	}
}

func (s *Server) requireOrchestrator(c *gin.Context) (*orchestrator.Orchestrator, bool) {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Session not found"})
		return nil, false
	}
	o := sess.Orchestrator()
	if o == nil {
		c.JSON(http.StatusConflict, gin.H{"detail": "Session has not started"})
		return nil, false
	}
	return o, true
}

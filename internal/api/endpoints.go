package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/asoloa/ambot/internal/api/middleware"
	apperrors "github.com/asoloa/ambot/internal/errors"
	"github.com/asoloa/ambot/internal/tokens"
	"github.com/gin-gonic/gin"
)

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "ambot chat API",
		"subject": s.subject(),
		"endpoints": []string{
			"POST /v1/chat",
			"GET /v1/widget/ws",
			"GET /v1/widget/config",
			"GET /v1/knowledgebase/context?q=",
			"GET /healthz",
		},
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"port":        s.cfg.Port,
		"model":       s.model,
		"connections": middleware.ActiveConnections.Count(),
		"sessions":    middleware.ActiveWidgetSessions.Count(),
	})
}

// handleWidgetConfig returns what a widget needs before opening a session.
func (s *Server) handleWidgetConfig(c *gin.Context) {
	kb := s.kb.Current()
	greeting, samples := "", []string{}
	if kb != nil {
		greeting = kb.Greeting
		if len(kb.SampleQuestions) > 0 {
			samples = kb.SampleQuestions
		}
	}
	c.PureJSON(http.StatusOK, gin.H{
		"subject":         s.subject(),
		"greeting":        greeting,
		"sampleQuestions": samples,
		"maxHistory":      s.cfg.Chat.MaxHistory,
		"websocket":       "/v1/widget/ws",
	})
}

// handleContext shows the context that would be sent for a question.
// Nothing is forwarded upstream.
func (s *Server) handleContext(c *gin.Context) {
	question := strings.TrimSpace(c.Query("q"))
	if question == "" {
		s.writeError(c, apperrors.Validation("Invalid request: query parameter q is required"))
		return
	}

	built := s.builder.Build(question, s.kb.Current())
	serialized, err := built.Serialize()
	if err != nil {
		s.writeError(c, apperrors.From(err))
		return
	}

	c.PureJSON(http.StatusOK, gin.H{
		"question": question,
		"keywords": built.Keywords.Sorted(),
		"keys":     built.Keys(),
		"fallback": built.Fallback(),
		"scores":   built.Scores,
		"tokens":   tokens.Count(serialized),
		"context":  json.RawMessage(serialized),
	})
}

package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/asoloa/ambot/internal/api/middleware"
	"github.com/asoloa/ambot/internal/conversation"
	"github.com/asoloa/ambot/internal/relevance"
	"github.com/asoloa/ambot/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 16 << 10
)

// Frame types sent to the widget.
const (
	FrameGreeting = "greeting"
	FrameAnswer   = "answer"
	FrameBusy     = "busy"
	FrameError    = "error"
	FrameReset    = "reset"
)

// EmptyQuestionReply is sent when the widget submits a blank question.
const EmptyQuestionReply = "Please enter a question."

// WidgetFrame is one server-to-widget websocket message.
type WidgetFrame struct {
	Type            string   `json:"type"`
	Session         string   `json:"session,omitempty"`
	Greeting        string   `json:"greeting,omitempty"`
	SampleQuestions []string `json:"sampleQuestions,omitempty"`
	Answer          string   `json:"answer,omitempty"`
	ContextKeys     []string `json:"contextKeys,omitempty"`
	Fallback        bool     `json:"fallback,omitempty"`
	Error           string   `json:"error,omitempty"`
}

func (s *Server) checkWidgetOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	return origin == "" || originAllowed(s.cfg.CORS.AllowOrigins, origin)
}

// localSender answers widget turns through the same completion path as the
// HTTP proxy, without a network round trip.
func (s *Server) localSender() conversation.Sender {
	maxTokens := min(s.cfg.Chat.MaxTokens, s.cfg.Upstream.MaxTokensLimit)
	temperature := *s.cfg.Chat.Temperature
	return conversation.SenderFunc(func(ctx context.Context, req conversation.Request) (string, error) {
		messages := make([]conversation.Turn, 0, len(req.History)+2)
		messages = append(messages, conversation.Turn{
			Role:    conversation.RoleSystem,
			Content: transport.SystemMessage(req.Subject, req.SystemContext),
		})
		messages = append(messages, req.History...)
		messages = append(messages, conversation.Turn{Role: conversation.RoleUser, Content: req.Question})

		result, err := s.complete(ctx, &chatParams{
			Messages:    messages,
			MaxTokens:   maxTokens,
			Temperature: temperature,
		})
		if err != nil {
			return "", err
		}
		return result.Content, nil
	})
}

// widgetConn serializes writes to one socket.
type widgetConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *widgetConn) send(frame WidgetFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.conn.WriteJSON(frame)
}

func (w *widgetConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// handleWidgetSocket serves GET /v1/widget/ws. Each connection is one session
// with its own history. A question that arrives while the previous one is
// still being answered is refused with a busy frame.
func (s *Server) handleWidgetSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Debug("widget websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	s.trackWidgetSocket(conn, cancel)
	middleware.WidgetSessionOpened()
	defer func() {
		cancel()
		s.untrackWidgetSocket(conn)
		middleware.WidgetSessionClosed()
		_ = conn.Close()
	}()

	session := conversation.NewSession(s.kb, s.localSender(),
		conversation.WithBuilder(s.builder),
		conversation.WithMaxHistory(s.cfg.Chat.MaxHistory),
		conversation.WithObserver(func(built *relevance.Context, contextTokens int) {
			middleware.RecordContextBuild(built.Fallback(), contextTokens)
		}),
	)
	entry := log.WithField("session", session.ID())
	entry.Debug("widget session opened")
	defer entry.Debug("widget session closed")

	wc := &widgetConn{conn: conn}
	greeting := WidgetFrame{Type: FrameGreeting, Session: session.ID()}
	if kb := s.kb.Current(); kb != nil {
		greeting.Greeting = kb.Greeting
		greeting.SampleQuestions = kb.SampleQuestions
	}
	if err = wc.send(greeting); err != nil {
		return
	}

	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go s.pingWidget(ctx, wc)

	var turns sync.WaitGroup
	defer turns.Wait()
	slot := make(chan struct{}, 1)
	for {
		_, msg, errRead := conn.ReadMessage()
		if errRead != nil {
			if websocket.IsUnexpectedCloseError(errRead, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				entry.WithError(errRead).Debug("widget socket closed unexpectedly")
			}
			cancel()
			return
		}

		if gjson.GetBytes(msg, "type").String() == FrameReset {
			// Clearing under a running turn would leave its answer without a question.
			if len(slot) > 0 || session.Busy() {
				_ = wc.send(WidgetFrame{Type: FrameBusy})
				continue
			}
			session.History().Clear()
			_ = wc.send(WidgetFrame{Type: FrameReset, Session: session.ID()})
			continue
		}

		question := string(msg)
		if gjson.ValidBytes(msg) {
			question = gjson.GetBytes(msg, "question").String()
		}

		select {
		case slot <- struct{}{}:
		default:
			_ = wc.send(WidgetFrame{Type: FrameBusy})
			continue
		}
		turns.Add(1)
		go func() {
			defer turns.Done()
			frame := s.answerFrame(ctx, session, question)
			// Free the slot before answering so the widget can ask again as soon as it reads the frame.
			<-slot
			_ = wc.send(frame)
		}()
	}
}

func (s *Server) answerFrame(ctx context.Context, session *conversation.Session, question string) WidgetFrame {
	reply, err := session.Ask(ctx, question)
	switch {
	case err == nil:
		return WidgetFrame{
			Type:        FrameAnswer,
			Answer:      reply.Answer,
			ContextKeys: reply.ContextKeys,
			Fallback:    reply.Fallback,
		}
	case errors.Is(err, conversation.ErrEmptyQuestion):
		return WidgetFrame{Type: FrameError, Error: EmptyQuestionReply}
	case errors.Is(err, conversation.ErrTurnInProgress):
		return WidgetFrame{Type: FrameBusy}
	default:
		return WidgetFrame{Type: FrameError, Error: conversation.ErrorReply}
	}
}

func (s *Server) pingWidget(ctx context.Context, wc *widgetConn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := wc.ping(); err != nil {
				return
			}
		}
	}
}

func (s *Server) trackWidgetSocket(conn *websocket.Conn, cancel context.CancelFunc) {
	s.wsMu.Lock()
	s.wsConns[conn] = cancel
	s.wsMu.Unlock()
}

func (s *Server) untrackWidgetSocket(conn *websocket.Conn) {
	s.wsMu.Lock()
	delete(s.wsConns, conn)
	s.wsMu.Unlock()
}

func (s *Server) closeWidgetSockets() {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	for conn, cancel := range s.wsConns {
		cancel()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

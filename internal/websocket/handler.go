package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lingolink/internal/config"
	"lingolink/internal/ingest"
	"lingolink/internal/router"
	"lingolink/pkg/interfaces"
	"lingolink/pkg/types"
)

// Handler owns the WebSocket endpoint: it upgrades requests, runs the
// per-connection read loop, and dispatches decoded frames to the
// classroom manager, the ingestion pipeline, and the router. Everything a
// frame triggers happens on the connection's read goroutine except
// history replay, which runs on its own goroutine so a large replay never
// stalls live frames from the same client.
type Handler struct {
	registry   *Registry
	classrooms interfaces.ClassroomManager
	pipeline   *ingest.Pipeline
	router     *router.Router
	store      interfaces.TranscriptStore
	limiter    *router.RateLimiter

	cfg         config.WebSocketConfig
	replayLimit int

	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewHandler(
	registry *Registry,
	classrooms interfaces.ClassroomManager,
	pipeline *ingest.Pipeline,
	rt *router.Router,
	store interfaces.TranscriptStore,
	limiter *router.RateLimiter,
	cfg config.WebSocketConfig,
	replayLimit int,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		registry:    registry,
		classrooms:  classrooms,
		pipeline:    pipeline,
		router:      rt,
		store:       store,
		limiter:     limiter,
		cfg:         cfg,
		replayLimit: replayLimit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			HandshakeTimeout: 10 * time.Second,
			// Browser clients are served from a separate origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeHTTP upgrades the request and runs the connection to completion.
// A ?code= query parameter prefills the classroom code for students whose
// register frame omits it (the join-link flow).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("remote", r.RemoteAddr),
			zap.Error(err))
		return
	}

	conn := NewConnection(ws, h.cfg.SendBuffer, h.cfg.WriteTimeout)
	if _, err := h.registry.Add(conn); err != nil {
		_ = conn.Close()
		return
	}

	h.logger.Info("client connected",
		zap.String("connection_id", conn.ID()),
		zap.String("remote", r.RemoteAddr))

	if err := conn.WriteJSON(types.NewConnectionAck(conn.ID())); err != nil {
		h.logger.Warn("failed to send connection ack",
			zap.String("connection_id", conn.ID()),
			zap.Error(err))
	}

	go h.pingLoop(conn)

	prefill := types.NormalizeClassroomCode(r.URL.Query().Get("code"))
	h.readLoop(conn, prefill)
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.cfg.WriteTimeout)
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}

func (h *Handler) readLoop(conn *Connection, prefill string) {
	defer h.cleanup(conn)

	conn.conn.SetReadLimit(types.MaxFrameSize)
	_ = conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	conn.conn.SetPongHandler(func(string) error {
		conn.Touch()
		return conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("connection closed unexpectedly",
					zap.String("connection_id", conn.ID()),
					zap.Error(err))
			}
			return
		}
		_ = conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))

		if !h.limiter.Allow(conn.ID()) {
			h.sendError(conn, types.CodeRateLimited, "message rate limit exceeded, slow down")
			continue
		}

		msg, err := types.Decode(data)
		if err != nil {
			h.sendError(conn, types.CodeInvalidMessage, err.Error())
			continue
		}

		h.dispatch(conn, msg, prefill)
	}
}

func (h *Handler) dispatch(conn *Connection, msg types.Inbound, prefill string) {
	switch m := msg.(type) {
	case types.Register:
		h.handleRegister(conn, m, prefill)

	case types.Ping:
		h.handlePing(conn, m)

	case types.AudioChunk:
		if !h.requireRole(conn, types.RoleTeacher) {
			return
		}
		h.handleAudio(conn, m)

	case types.TranscriptText:
		if !h.requireRole(conn, types.RoleTeacher) {
			return
		}
		h.handleTranscript(conn, m)

	case types.SettingsChange:
		if !h.requireRole(conn, types.RoleTeacher) {
			return
		}
		h.handleSettings(conn, m)

	case types.StudentRequest:
		if !h.requireRole(conn, types.RoleStudent) {
			return
		}
		h.handleStudentRequest(conn, m.Text, nil, m.Visibility)

	case types.StudentAudio:
		if !h.requireRole(conn, types.RoleStudent) {
			return
		}
		h.handleStudentRequest(conn, "", m.Data, m.Visibility)
	}
}

// requireRole gates messages that only make sense for one role. An
// unregistered connection gets a registration error; a wrong-role message
// is silently dropped with a debug log, since a conforming client never
// sends one.
func (h *Handler) requireRole(conn *Connection, role string) bool {
	if !conn.IsRegistered() {
		h.sendError(conn, types.CodeRegistrationRejected, "register before sending messages")
		return false
	}
	if conn.Role() != role {
		h.logger.Debug("message dropped, wrong role",
			zap.String("connection_id", conn.ID()),
			zap.String("role", conn.Role()),
			zap.String("required", role))
		return false
	}
	return true
}

func (h *Handler) handleRegister(conn *Connection, msg types.Register, prefill string) {
	if !types.IsValidRole(msg.Role) {
		h.sendError(conn, types.CodeRegistrationRejected, types.ErrInvalidRole.Error())
		return
	}
	if !types.IsValidLanguageCode(msg.LanguageCode) {
		h.sendError(conn, types.CodeRegistrationRejected, types.ErrInvalidLanguageCode.Error())
		return
	}

	conn.SetIdentity(msg.Role, msg.LanguageCode, msg.Name)

	switch msg.Role {
	case types.RoleTeacher:
		h.registerTeacher(conn, msg.ClassroomCode)
	case types.RoleStudent:
		code := msg.ClassroomCode
		if code == "" {
			code = prefill
		}
		h.registerStudent(conn, code)
	}
}

func (h *Handler) registerTeacher(conn *Connection, code string) {
	snapshot, reclaimed, err := h.classrooms.CreateSession(conn.ID(), code)
	if err != nil {
		h.logger.Error("classroom creation failed",
			zap.String("connection_id", conn.ID()),
			zap.Error(err))
		h.sendError(conn, types.CodeRegistrationRejected, "could not create classroom")
		return
	}

	if err := h.registry.SetBinding(conn.ID(), snapshot.Code); err != nil {
		h.sendError(conn, types.CodeRegistrationRejected, "could not bind classroom")
		return
	}

	if err := conn.WriteJSON(types.NewClassroomCodeFrame(snapshot.Code, snapshot.ExpiresAt, reclaimed)); err != nil {
		h.logger.Warn("failed to send classroom code",
			zap.String("connection_id", conn.ID()),
			zap.Error(err))
		return
	}

	// A reclaimed classroom may already have bound students waiting.
	if reclaimed && snapshot.StudentCount > 0 {
		_ = conn.WriteJSON(types.NewRosterFrame(snapshot.StudentCount, snapshot.Languages))
	}

	h.logger.Info("teacher registered",
		zap.String("connection_id", conn.ID()),
		zap.String("classroom", snapshot.Code),
		zap.Bool("reclaimed", reclaimed))
}

func (h *Handler) registerStudent(conn *Connection, code string) {
	if code == "" {
		h.sendError(conn, types.CodeRegistrationRejected, "classroom code is required")
		return
	}
	if !types.IsValidClassroomCode(code) {
		h.sendError(conn, types.CodeClassroomNotFound, types.ErrInvalidClassroomCode.Error())
		return
	}

	snapshot, err := h.classrooms.BindStudent(code, conn.ID(), conn.Language())
	if err != nil {
		switch {
		case errors.Is(err, interfaces.ErrClassroomNotFound):
			h.sendError(conn, types.CodeClassroomNotFound, "no classroom with that code")
		case errors.Is(err, interfaces.ErrClassroomExpired):
			h.sendError(conn, types.CodeClassroomExpired, "that classroom has ended")
		case errors.Is(err, interfaces.ErrClassroomFull):
			h.sendError(conn, types.CodeClassroomFull, "that classroom is full")
		default:
			h.sendError(conn, types.CodeRegistrationRejected, "could not join classroom")
		}
		return
	}

	if err := h.registry.SetBinding(conn.ID(), code); err != nil {
		h.classrooms.Unbind(conn.ID())
		h.sendError(conn, types.CodeRegistrationRejected, "could not join classroom")
		return
	}

	h.notifyRoster(code)

	h.logger.Info("student joined",
		zap.String("connection_id", conn.ID()),
		zap.String("classroom", code),
		zap.String("language", conn.Language()),
		zap.Int("students", snapshot.StudentCount))

	go h.replay(conn, code)
}

// replay sends a late joiner the recent transcript in their language,
// frames marked replayed, then a replay_complete marker so the client can
// separate history from live output.
func (h *Handler) replay(conn *Connection, code string) {
	if h.store == nil || h.replayLimit <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	units, err := h.store.Recent(ctx, code, conn.Language(), h.replayLimit)
	if err != nil {
		h.logger.Warn("history replay failed",
			zap.String("connection_id", conn.ID()),
			zap.String("classroom", code),
			zap.Error(err))
		return
	}

	for _, unit := range units {
		if err := conn.WriteJSON(types.NewTranslationFrame(unit, true)); err != nil {
			return
		}
	}

	_ = conn.WriteJSON(types.ConnectionAck{
		Type:      types.MessageTypeConnection,
		SessionID: conn.ID(),
		Status:    "replay_complete",
	})
}

func (h *Handler) handleAudio(conn *Connection, msg types.AudioChunk) {
	code := msg.ClassroomCode
	if code == "" {
		code = conn.ClassroomCode()
	}

	err := h.pipeline.Ingest(code, conn.Language(), msg.Data, msg.IsFirst, msg.IsFinal)
	switch {
	case errors.Is(err, ingest.ErrUnboundSession):
		h.sendError(conn, types.CodeUnboundSession, "no active classroom for this connection")
	case errors.Is(err, ingest.ErrUtteranceTooLarge):
		h.sendError(conn, types.CodeInvalidMessage, "utterance too large, dropped")
	}
}

func (h *Handler) handleTranscript(conn *Connection, msg types.TranscriptText) {
	if !msg.IsFinal {
		// Partial recognizer output is display-only on the teacher side.
		return
	}
	if err := h.pipeline.SubmitText(conn.ClassroomCode(), conn.Language(), msg.Text); err != nil {
		h.sendError(conn, types.CodeUnboundSession, "no active classroom for this connection")
	}
}

func (h *Handler) handleSettings(conn *Connection, msg types.SettingsChange) {
	if err := h.classrooms.SetMode(conn.ClassroomCode(), conn.ID(), msg.Mode); err != nil {
		h.sendError(conn, types.CodeInvalidMessage, err.Error())
	}
}

func (h *Handler) handleStudentRequest(conn *Connection, text string, audio []byte, visibility string) {
	if visibility == "" {
		visibility = types.VisibilityBroadcast
	}
	if !types.IsValidVisibility(visibility) {
		h.sendError(conn, types.CodeInvalidMessage, types.ErrInvalidVisibility.Error())
		return
	}

	req := &types.PendingStudentRequest{
		ClassroomCode: conn.ClassroomCode(),
		StudentID:     conn.ID(),
		StudentLang:   conn.Language(),
		Text:          text,
		Audio:         audio,
		Visibility:    visibility,
	}
	if err := h.router.RouteStudentRequest(req, conn.Name()); err != nil {
		h.sendError(conn, types.CodeDeliveryFailed, "teacher is not connected")
	}
}

func (h *Handler) handlePing(conn *Connection, msg types.Ping) {
	conn.Touch()
	if conn.Role() == types.RoleTeacher {
		if code := conn.ClassroomCode(); code != "" {
			h.classrooms.Heartbeat(code)
		}
	}
	_ = conn.WriteJSON(types.NewPongFrame(msg.Timestamp))
}

// cleanup runs once when the read loop exits. Teacher departure starts
// the grace window rather than destroying the classroom; student
// departure frees the seat and updates the teacher's roster.
func (h *Handler) cleanup(conn *Connection) {
	_ = conn.Close()

	id := conn.ID()
	code := conn.ClassroomCode()
	role := conn.Role()

	h.limiter.Forget(id)
	h.registry.Remove(id)

	if code != "" {
		switch role {
		case types.RoleTeacher:
			h.classrooms.MarkTeacherGone(code, id)
		case types.RoleStudent:
			h.classrooms.Unbind(id)
			h.notifyRoster(code)
		}
	}

	h.logger.Info("client disconnected",
		zap.String("connection_id", id),
		zap.String("role", role),
		zap.String("classroom", code))
}

func (h *Handler) notifyRoster(code string) {
	teacher, ok := h.registry.Teacher(code)
	if !ok {
		return
	}
	snapshot, ok := h.classrooms.Snapshot(code)
	if !ok {
		return
	}
	if err := teacher.WriteJSON(types.NewRosterFrame(snapshot.StudentCount, snapshot.Languages)); err != nil {
		h.logger.Debug("roster update failed",
			zap.String("classroom", code),
			zap.Error(err))
	}
}

func (h *Handler) sendError(conn *Connection, code types.ErrorCode, message string) {
	if err := conn.WriteJSON(types.NewErrorFrame(code, message)); err != nil {
		h.logger.Debug("failed to send error frame",
			zap.String("connection_id", conn.ID()),
			zap.String("code", string(code)),
			zap.Error(err))
	}
}

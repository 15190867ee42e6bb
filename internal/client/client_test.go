package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lingolink/pkg/types"
)

// fakeServer speaks just enough of the wire protocol to exercise the
// client: it acks every connection, records register frames, and lets the
// test script the response per dial.
type fakeServer struct {
	t        *testing.T
	upgrader websocket.Upgrader
	srv      *httptest.Server

	mu        sync.Mutex
	dials     int
	registers []map[string]interface{}

	// respond is called with the dial ordinal (1-based) after the
	// register frame arrives. Returning false closes the connection.
	respond func(conn *websocket.Conn, dial int) bool
}

func newFakeServer(t *testing.T, respond func(conn *websocket.Conn, dial int) bool) *fakeServer {
	fs := &fakeServer{
		t:        t,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		respond:  respond,
	}
	fs.srv = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	fs.mu.Lock()
	fs.dials++
	dial := fs.dials
	fs.mu.Unlock()

	if err := conn.WriteJSON(types.NewConnectionAck(uuid.New().String())); err != nil {
		return
	}

	var register map[string]interface{}
	if err := conn.ReadJSON(&register); err != nil {
		return
	}
	fs.mu.Lock()
	fs.registers = append(fs.registers, register)
	fs.mu.Unlock()

	if !fs.respond(conn, dial) {
		return
	}

	// Drain until the client goes away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (fs *fakeServer) registerCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.registers)
}

func (fs *fakeServer) register(i int) map[string]interface{} {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.registers[i]
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{URL: "", Role: types.RoleTeacher, LanguageCode: "en"}, Handlers{})
	assert.Error(t, err)

	_, err = New(Options{URL: "ws://x", Role: "admin", LanguageCode: "en"}, Handlers{})
	assert.ErrorIs(t, err, types.ErrInvalidRole)

	_, err = New(Options{URL: "ws://x", Role: types.RoleTeacher, LanguageCode: "nope!"}, Handlers{})
	assert.ErrorIs(t, err, types.ErrInvalidLanguageCode)

	_, err = New(Options{URL: "ws://x", Role: types.RoleStudent, LanguageCode: "es"}, Handlers{})
	assert.Error(t, err, "students need a classroom code")
}

func TestTeacherReceivesClassroomCode(t *testing.T) {
	fs := newFakeServer(t, func(conn *websocket.Conn, dial int) bool {
		_ = conn.WriteJSON(types.NewClassroomCodeFrame("ABC234", time.Now().Add(10*time.Minute), false))
		return true
	})

	codeCh := make(chan string, 1)
	c, err := New(Options{
		URL:          fs.url(),
		Role:         types.RoleTeacher,
		LanguageCode: "en",
		Name:         "Ms. Rivera",
	}, Handlers{
		OnClassroomCode: func(code string, reclaimed bool) { codeCh <- code },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case code := <-codeCh:
		assert.Equal(t, "ABC234", code)
	case <-time.After(3 * time.Second):
		t.Fatal("never received classroom code")
	}

	assert.Equal(t, StateBound, c.State())
	assert.Equal(t, "ABC234", c.ClassroomCode())
	assert.NotEmpty(t, c.SessionID())

	c.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after close")
	}
}

func TestTeacherReconnectReclaimsClassroom(t *testing.T) {
	fs := newFakeServer(t, func(conn *websocket.Conn, dial int) bool {
		_ = conn.WriteJSON(types.NewClassroomCodeFrame("ABC234", time.Now().Add(10*time.Minute), dial > 1))
		// Drop the first connection to force a reconnect.
		return dial > 1
	})

	c, err := New(Options{
		URL:          fs.url(),
		Role:         types.RoleTeacher,
		LanguageCode: "en",
	}, Handlers{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return fs.registerCount() >= 2 },
		8*time.Second, 20*time.Millisecond, "client never re-registered")

	first := fs.register(0)
	second := fs.register(1)
	assert.Nil(t, first["classroomCode"], "first registration has no code yet")
	assert.Equal(t, "ABC234", second["classroomCode"], "reconnect must reclaim the same classroom")

	c.Close()
	<-done
}

func TestStudentRejectionIsPermanent(t *testing.T) {
	fs := newFakeServer(t, func(conn *websocket.Conn, dial int) bool {
		_ = conn.WriteJSON(types.NewErrorFrame(types.CodeClassroomNotFound, "no classroom with that code"))
		return true
	})

	errCh := make(chan types.ErrorFrame, 1)
	c, err := New(Options{
		URL:           fs.url(),
		Role:          types.RoleStudent,
		LanguageCode:  "es",
		ClassroomCode: "ZZZZ99",
	}, Handlers{
		OnError: func(frame types.ErrorFrame) { errCh <- frame },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = c.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registration rejected")

	select {
	case frame := <-errCh:
		assert.Equal(t, types.CodeClassroomNotFound, frame.Code)
	default:
	}

	assert.Equal(t, 1, fs.registerCount(), "a permanent rejection must not be retried")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "bound", StateBound.String())
	assert.Equal(t, "closed", StateClosed.String())
}

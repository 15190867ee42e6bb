package websocket

import (
	"sort"
	"sync"

	"lingolink/pkg/types"
)

// Registry tracks every live connection and its classroom binding. It is
// the only component that owns Connection objects; everyone else holds
// ids. Critical sections cover map mutation only, and downstream
// notifications (session cleanup) run asynchronously so Remove never
// blocks a connection handler.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection            // connection id -> conn
	teachers    map[string]*Connection            // classroom code -> teacher conn
	students    map[string]map[string]*Connection // classroom code -> id -> conn

	// onEvict is invoked (in its own goroutine) with the id of every
	// removed connection, so the classroom manager can drop stale
	// student bindings for crashed sockets.
	onEvict func(connectionID string)
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		teachers:    make(map[string]*Connection),
		students:    make(map[string]map[string]*Connection),
	}
}

// OnEvict installs the eviction hook. Must be called before traffic.
func (r *Registry) OnEvict(fn func(connectionID string)) {
	r.onEvict = fn
}

// Add tracks a freshly opened connection and returns its id.
func (r *Registry) Add(conn *Connection) (string, error) {
	if conn == nil {
		return "", ErrNilConnection
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[conn.ID()] = conn
	return conn.ID(), nil
}

// Get returns the connection for id.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[id]
	return conn, ok
}

// SetBinding places a registered connection into its classroom's role
// map. A teacher binding supersedes any previous teacher on the same
// code: the old connection is closed asynchronously, never duplicated.
func (r *Registry) SetBinding(id, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[id]
	if !ok {
		return ErrNotFound
	}
	if !conn.IsRegistered() {
		return ErrNotRegistered
	}

	switch conn.Role() {
	case types.RoleTeacher:
		if prev, ok := r.teachers[code]; ok && prev != conn {
			go func() { _ = prev.Close() }()
		}
		r.teachers[code] = conn
	case types.RoleStudent:
		if r.students[code] == nil {
			r.students[code] = make(map[string]*Connection)
		}
		r.students[code][id] = conn
	}

	conn.SetClassroom(code)
	return nil
}

// Remove drops a connection from every map. Idempotent; keyed removal is
// guarded against a newer connection having reused the binding slot.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	conn, ok := r.connections[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.connections, id)

	code := conn.ClassroomCode()
	if code != "" {
		if teacher, ok := r.teachers[code]; ok && teacher == conn {
			delete(r.teachers, code)
		}
		if students, ok := r.students[code]; ok {
			delete(students, id)
			if len(students) == 0 {
				delete(r.students, code)
			}
		}
	}
	hook := r.onEvict
	r.mu.Unlock()

	if hook != nil {
		go hook(id)
	}
}

// Teacher returns the bound teacher connection for a classroom.
func (r *Registry) Teacher(code string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.teachers[code]
	return conn, ok
}

// ListBySession returns a classroom's connections, optionally filtered by
// role ("" means both).
func (r *Registry) ListBySession(code, role string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []*Connection
	if role == "" || role == types.RoleTeacher {
		if teacher, ok := r.teachers[code]; ok {
			conns = append(conns, teacher)
		}
	}
	if role == "" || role == types.RoleStudent {
		for _, conn := range r.students[code] {
			conns = append(conns, conn)
		}
	}
	return conns
}

// ListByRole returns all connections with the given role across sessions.
func (r *Registry) ListByRole(role string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []*Connection
	for _, conn := range r.connections {
		if conn.Role() == role {
			conns = append(conns, conn)
		}
	}
	return conns
}

// LanguagesBySession returns the sorted distinct target languages among a
// classroom's bound students. The fan-out router translates once per
// entry, however many students share it.
func (r *Registry) LanguagesBySession(code string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, conn := range r.students[code] {
		if lang := conn.Language(); lang != "" {
			seen[lang] = struct{}{}
		}
	}
	langs := make([]string, 0, len(seen))
	for lang := range seen {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// StudentsByLanguage returns the classroom's students registered for lang.
func (r *Registry) StudentsByLanguage(code, lang string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []*Connection
	for _, conn := range r.students[code] {
		if conn.Language() == lang {
			conns = append(conns, conn)
		}
	}
	return conns
}

// Stats reports registry counters for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make(map[string]struct{})
	for code := range r.teachers {
		sessions[code] = struct{}{}
	}
	for code := range r.students {
		sessions[code] = struct{}{}
	}

	students := 0
	for _, set := range r.students {
		students += len(set)
	}

	return map[string]int{
		"total_connections": len(r.connections),
		"teachers":          len(r.teachers),
		"students":          students,
		"active_sessions":   len(sessions),
	}
}

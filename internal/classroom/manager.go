package classroom

import (
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"lingolink/internal/config"
	"lingolink/pkg/interfaces"
	"lingolink/pkg/types"
)

// codeAttempts bounds collision retries during code generation. The code
// space is 31^6; hitting this limit means something is very wrong.
const codeAttempts = 64

// session is the mutable classroom state. Owned exclusively by the
// Manager; it holds connection ids only, never connections.
type session struct {
	code          string
	teacherID     string
	mode          string
	createdAt     time.Time
	expiresAt     time.Time
	hardDeadline  time.Time
	students      map[string]string // connection id -> language
	teacherGoneAt time.Time         // zero while the teacher is connected
}

// Manager implements interfaces.ClassroomManager. All state changes for a
// given code are linearized under one lock; critical sections only mutate
// maps and never block on I/O.
type Manager struct {
	mu       sync.RWMutex
	cfg      config.ClassroomConfig
	sessions map[string]*session // code -> session
	byMember map[string]string   // connection id -> code (students and teachers)

	now      func() time.Time
	onExpire func(code string)
	logger   *zap.Logger
}

var _ interfaces.ClassroomManager = (*Manager)(nil)

func NewManager(cfg config.ClassroomConfig, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*session),
		byMember: make(map[string]string),
		now:      time.Now,
		logger:   logger,
	}
}

// SetClock injects a deterministic clock; used by tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// SetOnExpire installs a hook invoked with each expired code after a
// sweep, outside the manager lock. Used to purge dependent state such as
// the transcript store.
func (m *Manager) SetOnExpire(fn func(code string)) { m.onExpire = fn }

// CreateSession issues a classroom for teacherID. A non-empty code is the
// reconnect path: if that classroom still exists (active or inside its
// grace window) the teacher reclaims it, keeping code, students, and mode.
// Otherwise a fresh classroom with a fresh code is created.
func (m *Manager) CreateSession(teacherID, code string) (types.Classroom, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	if code != "" {
		if s, ok := m.sessions[code]; ok && !m.deadLocked(s, now) {
			prev := s.teacherID
			delete(m.byMember, prev)
			s.teacherID = teacherID
			s.teacherGoneAt = time.Time{}
			m.extendLocked(s, now)
			m.byMember[teacherID] = code
			m.logger.Info("classroom reclaimed",
				zap.String("code", code),
				zap.String("teacher_id", teacherID),
				zap.Int("students", len(s.students)))
			return m.snapshotLocked(s), true, nil
		}
	}

	newCode, err := m.generateCodeLocked()
	if err != nil {
		return types.Classroom{}, false, err
	}

	s := &session{
		code:         newCode,
		teacherID:    teacherID,
		mode:         types.ModeAuto,
		createdAt:    now,
		expiresAt:    now.Add(m.cfg.Expiry),
		hardDeadline: now.Add(m.cfg.MaxLifetime),
		students:     make(map[string]string),
	}
	m.sessions[newCode] = s
	m.byMember[teacherID] = newCode

	m.logger.Info("classroom created",
		zap.String("code", newCode),
		zap.String("teacher_id", teacherID),
		zap.Time("expires_at", s.expiresAt))
	return m.snapshotLocked(s), false, nil
}

// BindStudent binds a student connection to an active classroom. Binding
// the same student twice updates its language instead of duplicating.
func (m *Manager) BindStudent(code, studentID, language string) (types.Classroom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[code]
	if !ok {
		return types.Classroom{}, interfaces.ErrClassroomNotFound
	}

	now := m.now()
	if m.deadLocked(s, now) || !s.teacherGoneAt.IsZero() {
		// A classroom whose teacher is gone rejects new binds even
		// inside the grace window; already-bound students keep their
		// seats for a reclaim.
		return types.Classroom{}, interfaces.ErrClassroomExpired
	}

	if _, rebinding := s.students[studentID]; !rebinding && len(s.students) >= m.cfg.MaxStudents {
		return types.Classroom{}, interfaces.ErrClassroomFull
	}

	s.students[studentID] = language
	m.byMember[studentID] = code
	m.extendLocked(s, now)

	m.logger.Info("student bound",
		zap.String("code", code),
		zap.String("student_id", studentID),
		zap.String("language", language),
		zap.Int("students", len(s.students)))
	return m.snapshotLocked(s), nil
}

// Validate reports the status of a code without mutating anything.
func (m *Manager) Validate(code string) interfaces.ClassroomStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[code]
	if !ok {
		return interfaces.ClassroomNotFound
	}
	if m.deadLocked(s, m.now()) {
		return interfaces.ClassroomExpired
	}
	if !s.teacherGoneAt.IsZero() {
		return interfaces.ClassroomInactive
	}
	return interfaces.ClassroomActive
}

// Unbind removes a connection from its classroom. For a teacher id this
// is a no-op; teacher departure goes through MarkTeacherGone so the
// session survives the grace window.
func (m *Manager) Unbind(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	code, ok := m.byMember[connectionID]
	if !ok {
		return
	}
	s, ok := m.sessions[code]
	if !ok {
		delete(m.byMember, connectionID)
		return
	}
	if s.teacherID == connectionID {
		return
	}
	delete(s.students, connectionID)
	delete(m.byMember, connectionID)
	m.logger.Debug("student unbound",
		zap.String("code", code),
		zap.String("student_id", connectionID),
		zap.Int("students", len(s.students)))
}

// Heartbeat extends a classroom's rolling expiry, capped by the hard
// lifetime limit.
func (m *Manager) Heartbeat(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[code]; ok {
		m.extendLocked(s, m.now())
	}
}

// MarkTeacherGone starts the grace window. The session stays resolvable
// (students keep their seats) until ExpireSweep confirms the window has
// elapsed without a reclaim. A teacherID that no longer owns the
// classroom (superseded by a reclaim) is ignored.
func (m *Manager) MarkTeacherGone(code, teacherID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[code]
	if !ok || s.teacherID != teacherID || !s.teacherGoneAt.IsZero() {
		return
	}
	s.teacherGoneAt = m.now()
	m.logger.Info("teacher gone, grace window started",
		zap.String("code", code),
		zap.Duration("grace_period", m.cfg.GracePeriod))
}

// SetMode switches the teaching mode. A stale connection that has been
// superseded by a reclaim is no longer the teacher and is refused.
func (m *Manager) SetMode(code, teacherID, mode string) error {
	if !types.IsValidMode(mode) {
		return types.ErrInvalidMode
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[code]
	if !ok {
		return interfaces.ErrClassroomNotFound
	}
	if s.teacherID != teacherID {
		return interfaces.ErrNotTeacher
	}
	s.mode = mode
	return nil
}

// Snapshot returns the current state of one classroom.
func (m *Manager) Snapshot(code string) (types.Classroom, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[code]
	if !ok {
		return types.Classroom{}, false
	}
	return m.snapshotLocked(s), true
}

// List returns snapshots of every live classroom.
func (m *Manager) List() []types.Classroom {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.Classroom, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, m.snapshotLocked(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// ExpireSweep removes classrooms past expiry, past the hard lifetime cap,
// or whose teacher stayed gone beyond the grace window. Runs on a fixed
// interval, never per message; in-flight work is unaffected because the
// sweep only prevents new bindings and ingestion.
func (m *Manager) ExpireSweep(now time.Time) []string {
	m.mu.Lock()

	var expired []string
	for code, s := range m.sessions {
		if !m.deadLocked(s, now) {
			continue
		}
		expired = append(expired, code)
		delete(m.byMember, s.teacherID)
		for studentID := range s.students {
			delete(m.byMember, studentID)
		}
		delete(m.sessions, code)
		m.logger.Info("classroom expired",
			zap.String("code", code),
			zap.Int("students", len(s.students)))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, code := range expired {
			hook(code)
		}
	}
	return expired
}

// Run executes the sweep loop until ctx is done.
func (m *Manager) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.ExpireSweep(m.now())
		case <-stop:
			return
		}
	}
}

func (m *Manager) deadLocked(s *session, now time.Time) bool {
	if now.After(s.hardDeadline) || now.After(s.expiresAt) {
		return true
	}
	if !s.teacherGoneAt.IsZero() && now.After(s.teacherGoneAt.Add(m.cfg.GracePeriod)) {
		return true
	}
	return false
}

func (m *Manager) extendLocked(s *session, now time.Time) {
	next := now.Add(m.cfg.Expiry)
	if next.After(s.hardDeadline) {
		next = s.hardDeadline
	}
	s.expiresAt = next
}

func (m *Manager) snapshotLocked(s *session) types.Classroom {
	status := types.ClassroomStatusActive
	if !s.teacherGoneAt.IsZero() {
		status = types.ClassroomStatusInactive
	}

	seen := make(map[string]struct{})
	for _, lang := range s.students {
		seen[lang] = struct{}{}
	}
	langs := make([]string, 0, len(seen))
	for lang := range seen {
		langs = append(langs, lang)
	}
	sort.Strings(langs)

	return types.Classroom{
		Code:         s.code,
		TeacherID:    s.teacherID,
		Mode:         s.mode,
		Status:       status,
		CreatedAt:    s.createdAt,
		ExpiresAt:    s.expiresAt,
		StudentCount: len(s.students),
		Languages:    langs,
	}
}

func (m *Manager) generateCodeLocked() (string, error) {
	for attempt := 0; attempt < codeAttempts; attempt++ {
		buf := make([]byte, types.ClassroomCodeLength)
		for i := range buf {
			buf[i] = types.CodeAlphabet[rand.IntN(len(types.CodeAlphabet))]
		}
		code := string(buf)
		if _, taken := m.sessions[code]; !taken {
			return code, nil
		}
	}
	return "", interfaces.ErrCodeSpaceBusy
}

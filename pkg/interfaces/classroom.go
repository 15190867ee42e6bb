package interfaces

import (
	"time"

	"lingolink/pkg/types"
)

// ClassroomStatus is the answer to a code validation query.
type ClassroomStatus int

const (
	ClassroomActive ClassroomStatus = iota
	ClassroomInactive
	ClassroomExpired
	ClassroomNotFound
)

// ClassroomManager owns classroom session lifecycle: code issuance,
// teacher/student binding, expiry, and the teacher-disconnect grace
// window. It holds only connection ids; connection lifetime belongs to
// the registry.
type ClassroomManager interface {
	// CreateSession issues a classroom for the teacher. When code is
	// non-empty the teacher is reclaiming an existing classroom (the
	// reconnect path); reclaimed reports which branch was taken.
	// Reclaiming is idempotent: the surviving classroom keeps its code,
	// bound students, and mode.
	CreateSession(teacherID, code string) (snapshot types.Classroom, reclaimed bool, err error)

	// BindStudent binds a student connection to an active classroom.
	BindStudent(code, studentID, language string) (types.Classroom, error)

	// Validate reports the current status of a code.
	Validate(code string) ClassroomStatus

	// Unbind removes a connection from whatever classroom it is bound
	// to. Safe to call for ids that were never bound.
	Unbind(connectionID string)

	// Heartbeat extends the classroom expiry; called on teacher pings.
	Heartbeat(code string)

	// MarkTeacherGone starts the grace window for a classroom whose
	// teacher connection closed. Ignored unless teacherID is still the
	// classroom's current teacher, so a superseded connection closing
	// late cannot start the window on a reclaimed classroom.
	MarkTeacherGone(code, teacherID string)

	// SetMode switches the teaching mode (auto/manual) for a classroom.
	// Only the bound teacher may switch it.
	SetMode(code, teacherID, mode string) error

	// Snapshot returns the current state of one classroom.
	Snapshot(code string) (types.Classroom, bool)

	// List returns snapshots of all live (active or grace) classrooms.
	List() []types.Classroom

	// ExpireSweep removes classrooms past expiry or past the teacher
	// grace window, returning the expired codes so callers can purge
	// dependent state.
	ExpireSweep(now time.Time) []string
}

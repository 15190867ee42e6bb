package classroom

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lingolink/internal/config"
	"lingolink/pkg/interfaces"
	"lingolink/pkg/types"
)

func testConfig() config.ClassroomConfig {
	return config.ClassroomConfig{
		Expiry:        10 * time.Minute,
		GracePeriod:   2 * time.Minute,
		MaxLifetime:   time.Hour,
		MaxStudents:   3,
		SweepInterval: time.Second,
	}
}

// fakeClock drives the manager deterministically.
type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestManager(t *testing.T) (*Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	m := NewManager(testConfig(), zap.NewNop())
	m.SetClock(clock.now)
	return m, clock
}

func TestCreateSessionIssuesValidCode(t *testing.T) {
	m, clock := newTestManager(t)

	snap, reclaimed, err := m.CreateSession("teacher-1", "")
	require.NoError(t, err)

	assert.False(t, reclaimed)
	assert.True(t, types.IsValidClassroomCode(snap.Code))
	assert.Equal(t, "teacher-1", snap.TeacherID)
	assert.Equal(t, types.ModeAuto, snap.Mode)
	assert.Equal(t, clock.t.Add(10*time.Minute), snap.ExpiresAt)
	assert.Zero(t, snap.StudentCount)
}

func TestCodesAreUniqueWhileActive(t *testing.T) {
	m, _ := newTestManager(t)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		snap, _, err := m.CreateSession("t", "")
		require.NoError(t, err)
		assert.False(t, seen[snap.Code], "duplicate active code %s", snap.Code)
		seen[snap.Code] = true
	}
}

func TestBindStudent(t *testing.T) {
	m, _ := newTestManager(t)
	snap, _, err := m.CreateSession("teacher-1", "")
	require.NoError(t, err)

	bound, err := m.BindStudent(snap.Code, "student-1", "es")
	require.NoError(t, err)
	assert.Equal(t, 1, bound.StudentCount)
	assert.Equal(t, []string{"es"}, bound.Languages)

	// Re-binding the same student changes language, never duplicates.
	bound, err = m.BindStudent(snap.Code, "student-1", "fr")
	require.NoError(t, err)
	assert.Equal(t, 1, bound.StudentCount)
	assert.Equal(t, []string{"fr"}, bound.Languages)
}

func TestBindStudentErrors(t *testing.T) {
	m, clock := newTestManager(t)

	_, err := m.BindStudent("ZZZZZZ", "s1", "es")
	assert.ErrorIs(t, err, interfaces.ErrClassroomNotFound)

	snap, _, err := m.CreateSession("teacher-1", "")
	require.NoError(t, err)

	for i, id := range []string{"s1", "s2", "s3"} {
		_, err := m.BindStudent(snap.Code, id, "es")
		require.NoError(t, err, "bind %d", i)
	}
	_, err = m.BindStudent(snap.Code, "s4", "es")
	assert.ErrorIs(t, err, interfaces.ErrClassroomFull)

	clock.advance(11 * time.Minute)
	_, err = m.BindStudent(snap.Code, "s5", "es")
	assert.ErrorIs(t, err, interfaces.ErrClassroomExpired)
}

func TestBindRejectedWhileTeacherGone(t *testing.T) {
	m, _ := newTestManager(t)
	snap, _, err := m.CreateSession("teacher-1", "")
	require.NoError(t, err)

	m.MarkTeacherGone(snap.Code, "teacher-1")

	_, err = m.BindStudent(snap.Code, "s1", "es")
	assert.ErrorIs(t, err, interfaces.ErrClassroomExpired)
	assert.Equal(t, interfaces.ClassroomInactive, m.Validate(snap.Code))

	// A connection that is no longer the teacher cannot start the window.
	fresh, _, err := m.CreateSession("teacher-2", "")
	require.NoError(t, err)
	m.MarkTeacherGone(fresh.Code, "someone-else")
	assert.Equal(t, interfaces.ClassroomActive, m.Validate(fresh.Code))
}

func TestTeacherReclaimWithinGrace(t *testing.T) {
	m, clock := newTestManager(t)
	snap, _, err := m.CreateSession("teacher-1", "")
	require.NoError(t, err)
	_, err = m.BindStudent(snap.Code, "s1", "es")
	require.NoError(t, err)

	m.MarkTeacherGone(snap.Code, "teacher-1")
	clock.advance(time.Minute) // inside the 2m grace window

	reclaimedSnap, reclaimed, err := m.CreateSession("teacher-1b", snap.Code)
	require.NoError(t, err)

	assert.True(t, reclaimed)
	assert.Equal(t, snap.Code, reclaimedSnap.Code, "reclaim keeps the code")
	assert.Equal(t, 1, reclaimedSnap.StudentCount, "reclaim keeps bound students")
	assert.Equal(t, types.ClassroomStatusActive, reclaimedSnap.Status)
	assert.Len(t, m.List(), 1, "reclaim must not duplicate the session")
}

func TestReclaimAfterGraceCreatesFreshClassroom(t *testing.T) {
	m, clock := newTestManager(t)
	snap, _, err := m.CreateSession("teacher-1", "")
	require.NoError(t, err)

	m.MarkTeacherGone(snap.Code, "teacher-1")
	clock.advance(3 * time.Minute)
	m.ExpireSweep(clock.now())

	fresh, reclaimed, err := m.CreateSession("teacher-1", snap.Code)
	require.NoError(t, err)
	assert.False(t, reclaimed)
	assert.NotEqual(t, snap.Code, fresh.Code)
}

func TestBindingUniquenessUnderReclaim(t *testing.T) {
	m, _ := newTestManager(t)
	snap, _, err := m.CreateSession("conn-a", "")
	require.NoError(t, err)

	// A second teacher connection reclaiming the code supersedes, never
	// duplicates, the prior binding.
	reclaimedSnap, _, err := m.CreateSession("conn-b", snap.Code)
	require.NoError(t, err)
	assert.Equal(t, "conn-b", reclaimedSnap.TeacherID)
	assert.Len(t, m.List(), 1)
}

func TestHeartbeatExtendsExpiryUpToHardCap(t *testing.T) {
	m, clock := newTestManager(t)
	snap, _, err := m.CreateSession("teacher-1", "")
	require.NoError(t, err)

	clock.advance(8 * time.Minute)
	m.Heartbeat(snap.Code)

	extended, ok := m.Snapshot(snap.Code)
	require.True(t, ok)
	assert.Equal(t, clock.t.Add(10*time.Minute), extended.ExpiresAt)

	// Heartbeats cannot push expiry past the hard lifetime cap.
	clock.advance(50 * time.Minute)
	m.Heartbeat(snap.Code)
	capped, ok := m.Snapshot(snap.Code)
	require.True(t, ok)
	assert.True(t, capped.ExpiresAt.Sub(snap.CreatedAt) <= time.Hour)
}

func TestExpireSweepRemovesOnlyDeadSessions(t *testing.T) {
	m, clock := newTestManager(t)
	live, _, err := m.CreateSession("teacher-live", "")
	require.NoError(t, err)
	dead, _, err := m.CreateSession("teacher-dead", "")
	require.NoError(t, err)

	m.MarkTeacherGone(dead.Code, "teacher-dead")
	clock.advance(5 * time.Minute)
	m.Heartbeat(live.Code)

	var purged []string
	m.SetOnExpire(func(code string) { purged = append(purged, code) })

	expired := m.ExpireSweep(clock.now())
	assert.Equal(t, []string{dead.Code}, expired)
	assert.Equal(t, []string{dead.Code}, purged)

	assert.Equal(t, interfaces.ClassroomActive, m.Validate(live.Code))
	assert.Equal(t, interfaces.ClassroomNotFound, m.Validate(dead.Code))
}

func TestUnbindStudentLeavesTeacher(t *testing.T) {
	m, _ := newTestManager(t)
	snap, _, err := m.CreateSession("teacher-1", "")
	require.NoError(t, err)
	_, err = m.BindStudent(snap.Code, "s1", "es")
	require.NoError(t, err)

	m.Unbind("s1")
	after, ok := m.Snapshot(snap.Code)
	require.True(t, ok)
	assert.Zero(t, after.StudentCount)

	// Unbinding the teacher id is a no-op; teacher departure goes
	// through MarkTeacherGone.
	m.Unbind("teacher-1")
	_, ok = m.Snapshot(snap.Code)
	assert.True(t, ok)

	// Unknown ids are ignored.
	m.Unbind("nobody")
}

func TestSetMode(t *testing.T) {
	m, _ := newTestManager(t)
	snap, _, err := m.CreateSession("teacher-1", "")
	require.NoError(t, err)

	require.NoError(t, m.SetMode(snap.Code, "teacher-1", types.ModeManual))
	after, _ := m.Snapshot(snap.Code)
	assert.Equal(t, types.ModeManual, after.Mode)

	assert.ErrorIs(t, m.SetMode(snap.Code, "teacher-1", "hybrid"), types.ErrInvalidMode)
	assert.ErrorIs(t, m.SetMode("ZZZZZZ", "teacher-1", types.ModeManual), interfaces.ErrClassroomNotFound)
	assert.ErrorIs(t, m.SetMode(snap.Code, "impostor", types.ModeManual), interfaces.ErrNotTeacher)
}

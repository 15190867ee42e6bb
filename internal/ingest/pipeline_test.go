package ingest

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lingolink/internal/config"
	"lingolink/pkg/types"
)

func testConfig() config.IngestConfig {
	return config.IngestConfig{
		MaxUtteranceBytes: 1024,
		InactivityTimeout: 10 * time.Second,
		SweepInterval:     time.Second,
		QueueSize:         8,
	}
}

func newTestPipeline(active func(string) bool) *Pipeline {
	return NewPipeline(testConfig(), active, zap.NewNop())
}

func receiveUtterance(t *testing.T, p *Pipeline) types.Utterance {
	t.Helper()
	select {
	case utt := <-p.Utterances():
		return utt
	case <-time.After(time.Second):
		t.Fatal("no utterance emitted")
		return types.Utterance{}
	}
}

func TestChunkRoundTrip(t *testing.T) {
	p := newTestPipeline(nil)

	chunks := [][]byte{[]byte("one-"), []byte("two-"), []byte("three")}
	require.NoError(t, p.Ingest("ABC234", "en", chunks[0], true, false))
	require.NoError(t, p.Ingest("ABC234", "en", chunks[1], false, false))
	require.NoError(t, p.Ingest("ABC234", "en", chunks[2], false, true))

	utt := receiveUtterance(t, p)
	assert.Equal(t, bytes.Join(chunks, nil), utt.Audio, "reassembly must equal concatenation in order")
	assert.Equal(t, "ABC234", utt.ClassroomCode)
	assert.Equal(t, "en", utt.SourceLanguage)
	assert.NotEmpty(t, utt.ID)
	assert.Zero(t, p.PendingBuffers(), "buffer discarded after handoff")
}

func TestSingleChunkUtterance(t *testing.T) {
	p := newTestPipeline(nil)
	require.NoError(t, p.Ingest("ABC234", "en", []byte("all"), true, true))

	utt := receiveUtterance(t, p)
	assert.Equal(t, []byte("all"), utt.Audio)
}

func TestFirstFlagDiscardsStaleBuffer(t *testing.T) {
	p := newTestPipeline(nil)

	// Utterance that never sees its final chunk.
	require.NoError(t, p.Ingest("ABC234", "en", []byte("stale"), true, false))

	// Next utterance starts over; stale bytes must not leak in.
	require.NoError(t, p.Ingest("ABC234", "en", []byte("fresh"), true, true))

	utt := receiveUtterance(t, p)
	assert.Equal(t, []byte("fresh"), utt.Audio)
}

func TestRejectsUnboundSession(t *testing.T) {
	p := newTestPipeline(func(code string) bool { return code == "LIVE44" })

	err := p.Ingest("GHOST5", "en", []byte("x"), true, true)
	assert.ErrorIs(t, err, ErrUnboundSession)

	assert.NoError(t, p.Ingest("LIVE44", "en", []byte("x"), true, true))
}

func TestOversizedUtteranceDiscarded(t *testing.T) {
	p := newTestPipeline(nil)

	require.NoError(t, p.Ingest("ABC234", "en", make([]byte, 1000), true, false))
	err := p.Ingest("ABC234", "en", make([]byte, 100), false, false)
	assert.ErrorIs(t, err, ErrUtteranceTooLarge)
	assert.Zero(t, p.PendingBuffers(), "oversized buffer must not linger")
}

func TestSweepDiscardsAbandonedBuffers(t *testing.T) {
	p := newTestPipeline(nil)
	clock := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	p.SetClock(func() time.Time { return clock })

	require.NoError(t, p.Ingest("ABC234", "en", []byte("never finished"), true, false))
	require.Equal(t, 1, p.PendingBuffers())

	// Inside the window: kept.
	assert.Zero(t, p.Sweep(clock.Add(5*time.Second)))

	// Past the window: discarded, session not blocked.
	assert.Equal(t, 1, p.Sweep(clock.Add(11*time.Second)))
	assert.Zero(t, p.PendingBuffers())

	// The session keeps working after abandonment.
	require.NoError(t, p.Ingest("ABC234", "en", []byte("next"), true, true))
	utt := receiveUtterance(t, p)
	assert.Equal(t, []byte("next"), utt.Audio)
}

func TestSubmitText(t *testing.T) {
	p := newTestPipeline(nil)
	require.NoError(t, p.SubmitText("ABC234", "en", "typed segment"))

	utt := receiveUtterance(t, p)
	assert.Equal(t, "typed segment", utt.Text)
	assert.Empty(t, utt.Audio)
}

func TestMissingFirstFlagStartsNewBuffer(t *testing.T) {
	p := newTestPipeline(nil)

	// No first flag after e.g. a reconnect: tolerated.
	require.NoError(t, p.Ingest("ABC234", "en", []byte("a"), false, false))
	require.NoError(t, p.Ingest("ABC234", "en", []byte("b"), false, true))

	utt := receiveUtterance(t, p)
	assert.Equal(t, []byte("ab"), utt.Audio)
}

func TestQueueOverflowDropsInsteadOfBlocking(t *testing.T) {
	p := newTestPipeline(nil)

	// Fill the queue without consuming.
	for i := 0; i < testConfig().QueueSize+3; i++ {
		require.NoError(t, p.Ingest("ABC234", "en", []byte{byte(i)}, true, true))
	}
	// No deadlock and the queue holds exactly its capacity.
	assert.Len(t, p.Utterances(), testConfig().QueueSize)
}

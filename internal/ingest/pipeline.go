package ingest

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lingolink/internal/config"
	"lingolink/pkg/types"
)

var (
	ErrUnboundSession    = errors.New("no active classroom for this session")
	ErrUtteranceTooLarge = errors.New("utterance exceeds configured size limit")
)

// buffer accumulates the chunks of one in-flight utterance. Owned by the
// pipeline for exactly one utterance; handed off whole on the final chunk
// and never retained afterwards.
type buffer struct {
	data        []byte
	sourceLang  string
	startedAt   time.Time
	lastChunkAt time.Time
}

// Pipeline reassembles chunked audio per classroom. Chunk order is the
// transport's problem (one logical stream per session); the pipeline only
// appends, bounds, and times out. Completed utterances leave through a
// buffered channel consumed by the fan-out router.
type Pipeline struct {
	mu      sync.Mutex
	buffers map[string]*buffer // classroom code -> in-flight utterance

	cfg config.IngestConfig
	out chan types.Utterance

	// active reports whether a classroom currently accepts ingestion
	// (it exists and its teacher is connected).
	active func(code string) bool

	now    func() time.Time
	logger *zap.Logger
}

func NewPipeline(cfg config.IngestConfig, active func(code string) bool, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		buffers: make(map[string]*buffer),
		cfg:     cfg,
		out:     make(chan types.Utterance, cfg.QueueSize),
		active:  active,
		now:     time.Now,
		logger:  logger,
	}
}

// SetClock injects a deterministic clock; used by tests.
func (p *Pipeline) SetClock(now func() time.Time) { p.now = now }

// Utterances is the handoff channel to the router.
func (p *Pipeline) Utterances() <-chan types.Utterance { return p.out }

// Ingest appends one chunk to the classroom's in-flight utterance.
// isFirst resets the buffer, discarding any stale remainder from an
// utterance that never saw its final chunk. isFinal closes the buffer and
// emits it. Sessions without an active teacher binding are rejected.
func (p *Pipeline) Ingest(code, sourceLang string, chunk []byte, isFirst, isFinal bool) error {
	if p.active != nil && !p.active(code) {
		return ErrUnboundSession
	}

	now := p.now()

	p.mu.Lock()
	b := p.buffers[code]

	if isFirst {
		if b != nil && len(b.data) > 0 {
			p.logger.Warn("discarding stale utterance buffer",
				zap.String("code", string(types.CodeAudioBufferAbandoned)),
				zap.String("classroom", code),
				zap.Int("bytes", len(b.data)))
		}
		b = &buffer{sourceLang: sourceLang, startedAt: now}
		p.buffers[code] = b
	} else if b == nil {
		// Tolerate a missing first flag after a reconnect: start a new
		// utterance rather than dropping teacher speech.
		b = &buffer{sourceLang: sourceLang, startedAt: now}
		p.buffers[code] = b
	}

	if len(b.data)+len(chunk) > p.cfg.MaxUtteranceBytes {
		delete(p.buffers, code)
		p.mu.Unlock()
		return ErrUtteranceTooLarge
	}

	b.data = append(b.data, chunk...)
	b.lastChunkAt = now

	if !isFinal {
		p.mu.Unlock()
		return nil
	}

	// Final chunk: ownership of the assembled audio moves to the
	// utterance; the buffer is gone before the lock drops.
	delete(p.buffers, code)
	utt := types.Utterance{
		ID:             uuid.New().String(),
		ClassroomCode:  code,
		SourceLanguage: b.sourceLang,
		Audio:          b.data,
		AssembledAt:    now,
	}
	p.mu.Unlock()

	p.emit(utt)
	return nil
}

// SubmitText feeds an already-transcribed segment (manual mode, or the
// browser recognizer's final transcript) straight into the fan-out path.
func (p *Pipeline) SubmitText(code, sourceLang, text string) error {
	if p.active != nil && !p.active(code) {
		return ErrUnboundSession
	}
	p.emit(types.Utterance{
		ID:             uuid.New().String(),
		ClassroomCode:  code,
		SourceLanguage: sourceLang,
		Text:           text,
		AssembledAt:    p.now(),
	})
	return nil
}

func (p *Pipeline) emit(utt types.Utterance) {
	select {
	case p.out <- utt:
	default:
		// Delivery is at-most-once; shedding under sustained overload
		// beats stalling every teacher on one slow translation backend.
		p.logger.Warn("utterance queue full, dropping",
			zap.String("classroom", utt.ClassroomCode),
			zap.String("utterance_id", utt.ID))
	}
}

// Sweep discards buffers that have not seen a chunk within the inactivity
// window. Abandonment is logged, never surfaced to the teacher; the next
// first-flagged chunk starts clean.
func (p *Pipeline) Sweep(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	discarded := 0
	for code, b := range p.buffers {
		if now.Sub(b.lastChunkAt) > p.cfg.InactivityTimeout {
			p.logger.Warn("abandoning utterance buffer",
				zap.String("code", string(types.CodeAudioBufferAbandoned)),
				zap.String("classroom", code),
				zap.Int("bytes", len(b.data)),
				zap.Time("last_chunk_at", b.lastChunkAt))
			delete(p.buffers, code)
			discarded++
		}
	}
	return discarded
}

// Run executes the sweep loop until stop closes.
func (p *Pipeline) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Sweep(p.now())
		case <-stop:
			return
		}
	}
}

// PendingBuffers reports how many utterances are currently in flight.
func (p *Pipeline) PendingBuffers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffers)
}

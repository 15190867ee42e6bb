package router

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"lingolink/internal/config"
	"lingolink/pkg/interfaces"
	"lingolink/pkg/types"
)

// Conn is the delivery-side view of a connection the router needs.
// Implemented by *websocket.Connection and by test fakes.
type Conn interface {
	ID() string
	Language() string
	Name() string
	WriteJSON(v interface{}) error
}

// Directory resolves classroom membership at delivery time, so a student
// who disconnects between translation and delivery simply isn't there
// anymore.
type Directory interface {
	Teacher(code string) (Conn, bool)
	StudentsByLanguage(code, lang string) []Conn
	LanguagesBySession(code string) []string
}

// Router fans one utterance out to every bound student, translated once
// per distinct target language. Translation calls run concurrently per
// language with a bounded timeout and are never made under any shared
// lock; a failure for one language or one student never touches the rest.
type Router struct {
	dir        Directory
	translator interfaces.Translator
	store      interfaces.TranscriptStore
	cfg        config.TranslateConfig
	logger     *zap.Logger
}

func NewRouter(dir Directory, translator interfaces.Translator, store interfaces.TranscriptStore, cfg config.TranslateConfig, logger *zap.Logger) *Router {
	return &Router{
		dir:        dir,
		translator: translator,
		store:      store,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run consumes assembled utterances until the channel closes or ctx ends.
// Utterances are processed one at a time, which preserves per-student
// delivery order; within one utterance the target languages proceed
// concurrently.
func (r *Router) Run(ctx context.Context, utterances <-chan types.Utterance) {
	for {
		select {
		case utt, ok := <-utterances:
			if !ok {
				return
			}
			r.Route(ctx, utt)
		case <-ctx.Done():
			return
		}
	}
}

// Route translates and delivers one utterance. It returns when every
// target language has either delivered or failed; each language is
// bounded by the translate timeout.
func (r *Router) Route(ctx context.Context, utt types.Utterance) {
	code := utt.ClassroomCode
	langs := r.dir.LanguagesBySession(code)

	// The teacher gets a transcript echo exactly once per utterance.
	// For typed segments the text is already known; for audio it arrives
	// with the first successful capability result.
	var echoOnce sync.Once
	echo := func(text string) {
		echoOnce.Do(func() {
			if teacher, ok := r.dir.Teacher(code); ok {
				if err := teacher.WriteJSON(types.NewTranscriptionFrame(text, true)); err != nil {
					r.logger.Debug("teacher echo failed",
						zap.String("classroom", code),
						zap.Error(err))
				}
			}
		})
	}
	if utt.Text != "" {
		echo(utt.Text)
	}

	if len(langs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, lang := range langs {
		wg.Add(1)
		go func(lang string) {
			defer wg.Done()
			unit, err := r.translateFor(ctx, &utt, lang)
			if err != nil {
				r.logger.Warn("translation unavailable for language",
					zap.String("code", string(types.CodeTranslationUnavailable)),
					zap.String("classroom", code),
					zap.String("target", lang),
					zap.String("utterance_id", utt.ID),
					zap.Error(err))
				return
			}
			echo(unit.OriginalText)
			r.record(unit)
			r.deliver(unit)
		}(lang)
	}
	wg.Wait()
}

// translateFor produces the single TranslationUnit for one target
// language. A typed segment whose target equals its source passes through
// without touching the capability; audio always needs one call per
// language, because transcription rides along with it.
func (r *Router) translateFor(ctx context.Context, utt *types.Utterance, lang string) (*types.TranslationUnit, error) {
	unit := &types.TranslationUnit{
		UtteranceID:    utt.ID,
		ClassroomCode:  utt.ClassroomCode,
		SourceLanguage: utt.SourceLanguage,
		TargetLanguage: lang,
		Visibility:     types.VisibilityBroadcast,
		CreatedAt:      time.Now(),
	}

	if utt.Text != "" && lang == utt.SourceLanguage {
		unit.OriginalText = utt.Text
		unit.TranslatedText = utt.Text
		return unit, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	res, err := r.translator.Translate(callCtx, interfaces.TranslateRequest{
		Text:           utt.Text,
		Audio:          utt.Audio,
		SourceLanguage: utt.SourceLanguage,
		TargetLanguage: lang,
		WantAudio:      r.cfg.SynthesizeAudio,
	})
	if err != nil {
		return nil, err
	}

	unit.OriginalText = res.SourceText
	if unit.OriginalText == "" {
		unit.OriginalText = utt.Text
	}
	unit.TranslatedText = res.Text
	unit.Audio = res.Audio
	return unit, nil
}

func (r *Router) record(unit *types.TranslationUnit) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.Append(ctx, unit); err != nil {
		r.logger.Warn("failed to record transcript",
			zap.String("classroom", unit.ClassroomCode),
			zap.Error(err))
	}
}

func (r *Router) deliver(unit *types.TranslationUnit) {
	frame := types.NewTranslationFrame(unit, false)
	for _, student := range r.dir.StudentsByLanguage(unit.ClassroomCode, unit.TargetLanguage) {
		if err := student.WriteJSON(frame); err != nil {
			// Isolated: logged, not retried, other students unaffected.
			r.logger.Warn("delivery failed",
				zap.String("code", string(types.CodeDeliveryFailed)),
				zap.String("classroom", unit.ClassroomCode),
				zap.String("student_id", student.ID()),
				zap.String("target", unit.TargetLanguage),
				zap.Error(err))
		}
	}
}

// RouteStudentRequest carries a student message the reverse direction, to
// the single bound teacher of the requester's session.
func (r *Router) RouteStudentRequest(req *types.PendingStudentRequest, fromName string) error {
	teacher, ok := r.dir.Teacher(req.ClassroomCode)
	if !ok {
		return ErrNoTeacher
	}
	if err := teacher.WriteJSON(types.NewStudentRequestFrame(req, fromName)); err != nil {
		r.logger.Warn("student request delivery failed",
			zap.String("code", string(types.CodeDeliveryFailed)),
			zap.String("classroom", req.ClassroomCode),
			zap.String("student_id", req.StudentID),
			zap.Error(err))
		return err
	}
	return nil
}

package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"lingolink/internal/api"
	"lingolink/internal/classroom"
	"lingolink/internal/config"
	"lingolink/internal/history"
	"lingolink/internal/ingest"
	"lingolink/internal/router"
	"lingolink/internal/translate"
	"lingolink/internal/websocket"
	"lingolink/pkg/interfaces"
)

// Application assembles the server in dependency order and owns its
// lifecycle. Construction wires everything but starts nothing; Start
// launches the background loops and the HTTP listener, Stop tears them
// down in reverse.
type Application struct {
	cfg    *config.Config
	logger *zap.Logger

	registry   *websocket.Registry
	classrooms *classroom.Manager
	store      *history.Store
	translator interfaces.Translator
	pipeline   *ingest.Pipeline
	router     *router.Router
	limiter    *router.RateLimiter
	handler    *websocket.Handler
	api        *api.Server
	httpServer *http.Server

	stop   chan struct{}
	cancel context.CancelFunc
}

// registryDirectory adapts the connection registry to the router's
// delivery view.
type registryDirectory struct {
	registry *websocket.Registry
}

func (d registryDirectory) Teacher(code string) (router.Conn, bool) {
	conn, ok := d.registry.Teacher(code)
	if !ok {
		return nil, false
	}
	return conn, true
}

func (d registryDirectory) StudentsByLanguage(code, lang string) []router.Conn {
	conns := d.registry.StudentsByLanguage(code, lang)
	out := make([]router.Conn, len(conns))
	for i, c := range conns {
		out[i] = c
	}
	return out
}

func (d registryDirectory) LanguagesBySession(code string) []string {
	return d.registry.LanguagesBySession(code)
}

func New(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	a := &Application{
		cfg:    cfg,
		logger: logger,
		stop:   make(chan struct{}),
	}

	a.registry = websocket.NewRegistry()
	a.classrooms = classroom.NewManager(cfg.Classroom, logger.Named("classroom"))

	// Crashed sockets release their classroom seats; expired classrooms
	// drop their transcripts.
	a.registry.OnEvict(a.classrooms.Unbind)

	store, err := history.NewStore(cfg.History, logger.Named("history"))
	if err != nil {
		return nil, fmt.Errorf("open transcript store: %w", err)
	}
	a.store = store
	a.classrooms.SetOnExpire(func(code string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Purge(ctx, code); err != nil {
			logger.Warn("failed to purge transcripts for expired classroom",
				zap.String("classroom", code),
				zap.Error(err))
		}
	})

	switch cfg.Translate.Mode {
	case "http":
		a.translator = translate.NewHTTPProvider(cfg.Translate, logger.Named("translate"))
	default:
		a.translator = translate.NewMock()
	}

	a.pipeline = ingest.NewPipeline(cfg.Ingest, func(code string) bool {
		return a.classrooms.Validate(code) == interfaces.ClassroomActive
	}, logger.Named("ingest"))

	a.router = router.NewRouter(
		registryDirectory{a.registry},
		a.translator,
		a.store,
		cfg.Translate,
		logger.Named("router"),
	)

	a.limiter = router.NewRateLimiter(cfg.WebSocket.MessagesPerMinute)

	a.handler = websocket.NewHandler(
		a.registry,
		a.classrooms,
		a.pipeline,
		a.router,
		a.store,
		a.limiter,
		cfg.WebSocket,
		cfg.History.ReplayLimit,
		logger.Named("ws"),
	)

	a.api = api.NewServer(a.classrooms, a.store, a.registry.Stats, cfg.HTTP.JoinBaseURL, logger.Named("api"))

	mux := http.NewServeMux()
	mux.Handle("/ws", a.handler)
	a.api.Register(mux)

	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return a, nil
}

// Start launches the background loops and begins serving. It returns once
// the listener is running; ListenAndServe errors are delivered on the
// returned channel.
func (a *Application) Start() <-chan error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	go a.classrooms.Run(a.stop)
	go a.pipeline.Run(a.stop)
	go a.router.Run(ctx, a.pipeline.Utterances())
	go a.limiterCleanupLoop()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening",
			zap.String("addr", a.httpServer.Addr),
			zap.String("translate_mode", a.cfg.Translate.Mode))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

func (a *Application) limiterCleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.limiter.Cleanup()
		case <-a.stop:
			return
		}
	}
}

// Stop shuts the server down: stop accepting, drain in-flight HTTP, stop
// the loops, then close the store.
func (a *Application) Stop(ctx context.Context) error {
	a.logger.Info("shutting down")

	err := a.httpServer.Shutdown(ctx)

	close(a.stop)
	if a.cancel != nil {
		a.cancel()
	}

	if cerr := a.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Handler exposes the composed HTTP handler; used by tests to run the
// whole application against an httptest server.
func (a *Application) Handler() http.Handler {
	return a.httpServer.Handler
}

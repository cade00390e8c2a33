package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/capture"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/eventstore"
	"github.com/loqalabs/loqa-dictate/internal/natsserver"
	"github.com/loqalabs/loqa-dictate/internal/notify"
	"github.com/loqalabs/loqa-dictate/internal/session"
	"github.com/loqalabs/loqa-dictate/internal/sink"
	"github.com/loqalabs/loqa-dictate/internal/stt"
	"github.com/loqalabs/loqa-dictate/internal/trigger"
)

// Version is stamped at build time with -ldflags.
var Version = "0.1.0-dev"

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error

	embedded   *natsserver.EmbeddedServer
	busClient  *bus.Client
	store      *eventstore.Store
	engine     stt.Engine
	worker     *stt.Service
	mic        *capture.Microphone
	hub        *notify.Hub
	busTrigger *trigger.Bus
	controller *session.Controller

	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start runs the dictation daemon until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.startServices(ctx); err != nil {
		cancel()
		return errors.Join(err, r.shutdown())
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("GET /v1/history", r.handleHistory)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	if r.cfg.Trigger.HTTP {
		trigger.NewHTTP(r.controller, r.logger).Register(mux)
	}
	if r.hub != nil {
		mux.Handle("/v1/events", r.hub)
	}

	if r.cfg.HTTP.Enabled {
		r.serve(fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port), mux)
	} else if metricsHandler != nil && r.cfg.Telemetry.PrometheusBind != "" {
		metrics := http.NewServeMux()
		metrics.Handle("/metrics", metricsHandler)
		r.serve(r.cfg.Telemetry.PrometheusBind, metrics)
	}

	if r.cfg.Trigger.Stdin {
		lines := trigger.NewLines(os.Stdin, os.Stderr, r.controller, r.logger)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := lines.Run(ctx); err != nil {
				r.logger.Warn("stdin trigger stopped", slogError(err))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("stt_mode", r.cfg.STT.Mode), slog.String("sink_mode", r.cfg.Sink.Mode))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	return r.shutdown()
}

func (r *Runtime) startServices(ctx context.Context) error {
	if err := r.connectBus(ctx); err != nil {
		return err
	}

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.store = store

	engine, err := stt.New(r.cfg, r.busClient)
	if err != nil {
		return fmt.Errorf("failed to create stt engine: %w", err)
	}
	r.engine = stt.Instrument(engine)

	if r.cfg.STT.Worker {
		r.worker = stt.NewService(ctx, r.cfg.STT, r.busClient, r.engine)
		if err := r.worker.Start(); err != nil {
			return fmt.Errorf("failed to start stt worker: %w", err)
		}
	}

	textSink, err := sink.New(r.cfg.Sink, r.logger)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}

	opts := []session.Option{session.WithListener(eventstore.NewRecorder(store))}
	if r.cfg.Audio.Capture == "malgo" {
		r.mic = capture.NewMicrophone(r.cfg.Audio, r.logger)
		opts = append(opts, session.WithSource(r.mic))
	}
	if r.cfg.Notify.WebSocket {
		r.hub = notify.NewHub(r.logger)
		opts = append(opts, session.WithListener(r.hub))
	}
	if r.cfg.Notify.Desktop {
		opts = append(opts, session.WithListener(notify.NewDesktop(r.cfg.Notify.AppName, r.logger)))
	}
	if r.cfg.Notify.Bus && r.busClient != nil {
		opts = append(opts, session.WithListener(notify.NewBusPublisher(r.busClient)))
	}

	ctrl, err := session.NewController(ctx, session.FromConfig(r.cfg), r.engine, textSink, r.logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to create session controller: %w", err)
	}
	r.controller = ctrl

	// Sessions fail closed until the model is ready.
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := ctrl.Prepare(ctx); err != nil {
			r.logger.Error("stt engine unavailable", slogError(err))
		}
	}()

	if r.cfg.Trigger.Bus {
		if r.busClient == nil {
			r.logger.Warn("bus trigger requested without bus; skipping")
		} else {
			r.busTrigger = trigger.NewBus(r.busClient, ctrl)
			if err := r.busTrigger.Start(); err != nil {
				return fmt.Errorf("failed to start bus trigger: %w", err)
			}
		}
	}
	return nil
}

func (r *Runtime) connectBus(ctx context.Context) error {
	if !r.cfg.Bus.Enabled {
		return nil
	}
	srv, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	r.embedded = srv

	busCfg := r.cfg.Bus
	if srv != nil {
		busCfg.Servers = []string{srv.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	r.busClient = client
	return nil
}

func (r *Runtime) serve(addr string, handler http.Handler) {
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slogError(err))
		}
	}()
	r.logger.Info("http listening", slog.String("addr", addr))
}

func (r *Runtime) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if r.busTrigger != nil {
		r.busTrigger.Close()
	}
	if r.controller != nil {
		if err := r.controller.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.hub != nil {
		r.hub.Close()
	}
	if r.mic != nil {
		if err := r.mic.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close microphone: %w", err))
		}
	}
	if r.worker != nil {
		r.worker.Close()
	}
	if err := stt.Close(r.engine); err != nil {
		errs = append(errs, fmt.Errorf("close stt engine: %w", err))
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close event store: %w", err))
		}
	}
	r.busClient.Close()
	r.embedded.Shutdown()
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	ready := r.ready.Load() && r.controller != nil && r.controller.Ready()
	if ready && r.busClient != nil {
		ready = r.busClient.Healthy()
	}
	if ready && r.worker != nil {
		ready = r.worker.Healthy()
	}
	if ready {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

type historyEntry struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Transcript string    `json:"transcript"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

func (r *Runtime) handleHistory(w http.ResponseWriter, req *http.Request) {
	limit := 20
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	sessions, err := r.store.ListSessions(req.Context(), limit)
	if err != nil {
		r.logger.Error("list sessions failed", slogError(err))
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	out := make([]historyEntry, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, historyEntry(s))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}

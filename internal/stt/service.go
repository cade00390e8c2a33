package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/nats-io/nats.go"
)

const workerRequestTimeout = 45 * time.Second

// Service answers transcription requests from the bus with a local engine.
// Several services can share the subject: requests are spread across the
// queue group.
type Service struct {
	cfg     config.STTConfig
	bus     *bus.Client
	engine  Engine
	log     *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	sub     *nats.Subscription
	wg      sync.WaitGroup
	mu      sync.Mutex
	ready   bool
	loadErr error
}

func NewService(parent context.Context, cfg config.STTConfig, busClient *bus.Client, engine Engine) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		engine: engine,
		log:    busClient.Logger().With(slog.String("component", "stt-worker")),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Worker {
		return nil
	}
	timeout := time.Duration(s.cfg.LoadTimeoutMS) * time.Millisecond
	if err := Prepare(s.ctx, s.engine, timeout); err != nil {
		// Keep answering so clients learn the engine is down instead of timing out.
		s.log.Error("stt engine failed to load", slogError(err))
		s.mu.Lock()
		s.loadErr = err
		s.mu.Unlock()
	}

	subject := s.cfg.Subject
	if subject == "" {
		subject = protocol.SubjectTranscribe
	}
	sub, err := s.bus.Conn().QueueSubscribe(subject, protocol.QueueTranscribeWorkers, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	s.sub = sub
	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	s.log.Info("stt worker listening", slog.String("subject", subject))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	if !s.cfg.Worker {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready && s.loadErr == nil
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.TranscribeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.log.Warn("failed to decode transcribe request", slogError(err))
		s.respond(msg, protocol.TranscribeReply{Error: "invalid request"})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.respond(msg, s.transcribe(req))
	}()
}

func (s *Service) transcribe(req protocol.TranscribeRequest) protocol.TranscribeReply {
	reply := protocol.TranscribeReply{RequestID: req.RequestID}

	s.mu.Lock()
	loadErr := s.loadErr
	s.mu.Unlock()
	if loadErr != nil {
		reply.Error = loadErr.Error()
		reply.Unavailable = true
		return reply
	}

	mode, err := ParseMode(req.Mode)
	if err != nil {
		reply.Error = err.Error()
		return reply
	}
	samples, err := audio.DecodePCM16(req.PCM)
	if err != nil {
		reply.Error = err.Error()
		return reply
	}
	if len(samples) == 0 {
		return reply
	}
	if req.SampleRate > 0 && req.SampleRate != audio.DefaultSampleRate {
		samples = audio.Resample(samples, req.SampleRate, audio.DefaultSampleRate)
	}

	ctx, cancel := context.WithTimeout(s.ctx, workerRequestTimeout)
	defer cancel()

	snap, err := s.engine.Transcribe(ctx, samples, mode)
	if err != nil {
		s.log.Warn("stt transcription failed",
			slog.String("request_id", req.RequestID),
			slog.String("mode", mode.String()),
			slogError(err),
		)
		reply.Error = err.Error()
		reply.Unavailable = errors.Is(err, ErrUnavailable)
		return reply
	}
	reply.Text = snap.Text
	reply.Confidence = snap.Confidence
	return reply
}

func (s *Service) respond(msg *nats.Msg, reply protocol.TranscribeReply) {
	data, err := json.Marshal(reply)
	if err != nil {
		s.log.Warn("failed to marshal transcribe reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.log.Warn("failed to respond to transcribe request", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

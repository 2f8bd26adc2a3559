// Package streams manages the registry of detection streams: starting and
// stopping pipelines, lifetime-based expiry, and restart of persisted
// streams.
package streams

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pyrowatch/pyrowatch/internal/config"
	"github.com/pyrowatch/pyrowatch/internal/detect"
	"github.com/pyrowatch/pyrowatch/internal/events"
	"github.com/pyrowatch/pyrowatch/internal/logging"
	"github.com/pyrowatch/pyrowatch/internal/metrics"
	"github.com/pyrowatch/pyrowatch/internal/pipeline"
)

// StartRequest carries the parameters for starting a stream.
type StartRequest struct {
	Source          string
	LifetimeMinutes *int
	Persist         bool

	// id overrides the generated UUID when restoring persisted streams.
	id string
}

// Service is the stream registry. All methods are safe for concurrent use.
type Service struct {
	cfg     *config.Settings
	pool    *detect.Pool
	bus     *events.Bus
	metrics *metrics.Metrics
	repo    *TOMLRepository
	logger  *slog.Logger

	mu      sync.RWMutex
	streams map[string]*Stream

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewService creates the stream service and starts the expiry sweep.
func NewService(cfg *config.Settings, pool *detect.Pool, bus *events.Bus, m *metrics.Metrics, repo *TOMLRepository) *Service {
	s := &Service{
		cfg:     cfg,
		pool:    pool,
		bus:     bus,
		metrics: m,
		repo:    repo,
		logger:  logging.GetLogger("streams"),
		streams: make(map[string]*Stream),
		stop:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.cleanupLoop()
	return s
}

// RestorePersisted starts every stream found in the repository. Failures are
// logged, not fatal: a camera that is offline at boot should not take the
// service down.
func (s *Service) RestorePersisted() {
	if s.repo == nil {
		return
	}
	for id, def := range s.repo.All() {
		lifetime := def.LifetimeMinutes
		_, err := s.Start(StartRequest{
			Source:          def.Source,
			LifetimeMinutes: &lifetime,
			Persist:         true,
			id:              id,
		})
		if err != nil {
			s.logger.Warn("Failed to restore persisted stream",
				"stream_id", id, "source", def.Source, "error", err)
		}
	}
}

// Start registers a new stream and launches its pipeline.
func (s *Service) Start(req StartRequest) (Info, error) {
	source := strings.TrimSpace(req.Source)
	if source == "" {
		return Info{}, NewStreamError(ErrCodeInvalidParams, "source must not be empty", nil)
	}

	lifetime := s.cfg.App.StreamDefaultLifetimeMinutes
	if req.LifetimeMinutes != nil {
		lifetime = *req.LifetimeMinutes
	}
	if lifetime < -1 || lifetime == 0 {
		return Info{}, NewStreamError(ErrCodeInvalidParams, "lifetime_minutes must be -1 or positive", nil)
	}

	if s.pool == nil {
		return Info{}, NewStreamError(ErrCodeModelNotReady, "detection model is not loaded", nil)
	}

	// Fast-fail before the expensive source open. The authoritative check
	// happens again in register, under the same lock as the insert.
	s.mu.Lock()
	dup := s.findBySourceLocked(source)
	s.mu.Unlock()
	if dup != nil {
		return Info{}, NewStreamError(ErrCodeStreamExists,
			"a stream for this source is already running: "+dup.ID, nil)
	}

	id := req.id
	if id == "" {
		id = uuid.NewString()
	}

	p := pipeline.New(pipeline.Config{
		StreamID:            id,
		Source:              source,
		Pool:                s.pool,
		ClassNames:          s.cfg.Yolo.ClassNames,
		ConfidenceThreshold: s.cfg.Yolo.ConfidenceThreshold,
		IoUThreshold:        s.cfg.Yolo.IoUThreshold,
		RecognitionInterval: s.cfg.RecognitionInterval(),
		OutputQueueSize:     s.cfg.App.StreamMaxQueueSize,
		Metrics:             s.metrics,
		Bus:                 s.bus,
	})
	if err := p.Start(); err != nil {
		return Info{}, NewStreamError(ErrCodeSourceOpenFailed, "could not open video source", err)
	}

	stream := &Stream{
		ID:              id,
		Source:          source,
		LifetimeMinutes: lifetime,
		Persist:         req.Persist,
		StartedAt:       time.Now(),
		pipeline:        p,
	}

	active, err := s.register(stream)
	if err != nil {
		// Another Start for the same source won the race while ours was
		// opening. Tear down the duplicate pipeline.
		p.Stop()
		return Info{}, err
	}

	if req.Persist && s.repo != nil {
		if err := s.repo.Put(id, StoredStream{Source: source, LifetimeMinutes: lifetime}); err != nil {
			s.logger.Error("Failed to persist stream", "stream_id", id, "error", err)
		}
	}

	s.metrics.StreamsStarted.Inc()
	s.metrics.ActiveStreams.Set(float64(active))
	s.bus.Publish(events.StreamStartedEvent{
		StreamID:        id,
		Source:          source,
		LifetimeMinutes: lifetime,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	})
	s.logger.Info("Stream started", "stream_id", id, "source", source, "lifetime_minutes", lifetime)

	s.wg.Add(1)
	go s.watchPipeline(stream)

	return stream.info(), nil
}

// register inserts the stream into the registry, re-checking for a duplicate
// source under the lock. Opening a source is slow, so two concurrent Start
// calls can both pass the initial check; only one may insert.
func (s *Service) register(stream *Stream) (active int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dup := s.findBySourceLocked(stream.Source); dup != nil {
		return 0, NewStreamError(ErrCodeStreamExists,
			"a stream for this source is already running: "+dup.ID, nil)
	}
	s.streams[stream.ID] = stream
	return len(s.streams), nil
}

// findBySourceLocked returns the stream using the given source, if any.
// Caller holds mu.
func (s *Service) findBySourceLocked(source string) *Stream {
	for _, existing := range s.streams {
		if existing.Source == source {
			return existing
		}
	}
	return nil
}

// Stop stops a stream by ID and removes it from the registry.
func (s *Service) Stop(id string) error {
	s.mu.Lock()
	stream, ok := s.streams[id]
	if ok {
		delete(s.streams, id)
	}
	active := len(s.streams)
	s.mu.Unlock()

	if !ok {
		return NewStreamError(ErrCodeStreamNotFound, "no stream with id "+id, nil)
	}

	stream.pipeline.Stop()
	s.removeFromStore(stream)
	s.finishStream(stream, active, "requested")
	return nil
}

// Get returns a snapshot of one stream.
func (s *Service) Get(id string) (Info, error) {
	s.mu.RLock()
	stream, ok := s.streams[id]
	s.mu.RUnlock()

	if !ok {
		return Info{}, NewStreamError(ErrCodeStreamNotFound, "no stream with id "+id, nil)
	}
	return stream.info(), nil
}

// List returns snapshots of all streams ordered by start time.
func (s *Service) List() []Info {
	s.mu.RLock()
	infos := make([]Info, 0, len(s.streams))
	for _, stream := range s.streams {
		infos = append(infos, stream.info())
	}
	s.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].StartedAt.Equal(infos[j].StartedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// Subscribe attaches a feed consumer to the stream's annotated JPEG output.
// The returned cancel function detaches the consumer without affecting the
// stream.
func (s *Service) Subscribe(id string) (<-chan []byte, func(), error) {
	s.mu.RLock()
	stream, ok := s.streams[id]
	s.mu.RUnlock()

	if !ok {
		return nil, nil, NewStreamError(ErrCodeStreamNotFound, "no stream with id "+id, nil)
	}
	ch, cancel := stream.pipeline.Output().Subscribe()
	return ch, cancel, nil
}

// Shutdown stops the expiry sweep and all running streams. Persisted
// definitions are kept so they restart on the next boot.
func (s *Service) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})

	s.mu.Lock()
	stopped := make([]*Stream, 0, len(s.streams))
	for id, stream := range s.streams {
		stopped = append(stopped, stream)
		delete(s.streams, id)
	}
	s.mu.Unlock()

	for _, stream := range stopped {
		stream.pipeline.Stop()
		s.finishStream(stream, 0, "shutdown")
	}

	s.wg.Wait()
	s.metrics.ActiveStreams.Set(0)
	s.logger.Info("Stream service shut down", "stopped_streams", len(stopped))
}

// watchPipeline removes a stream whose source ended on its own.
func (s *Service) watchPipeline(stream *Stream) {
	defer s.wg.Done()

	select {
	case <-s.stop:
		return
	case <-stream.pipeline.Done():
	}
	if stream.pipeline.Stopping() {
		// Stop or Shutdown already handled the removal
		return
	}

	s.mu.Lock()
	_, present := s.streams[stream.ID]
	if present {
		delete(s.streams, stream.ID)
	}
	active := len(s.streams)
	s.mu.Unlock()

	if !present {
		return
	}
	s.removeFromStore(stream)
	s.finishStream(stream, active, "source-ended")
}

// cleanupLoop periodically expires streams past their lifetime.
func (s *Service) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.CleanupInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.sweepExpired(now)
		}
	}
}

// sweepExpired stops and removes every stream past its deadline.
func (s *Service) sweepExpired(now time.Time) {
	s.mu.Lock()
	expired := make([]*Stream, 0)
	for id, stream := range s.streams {
		if stream.Expired(now) {
			expired = append(expired, stream)
			delete(s.streams, id)
		}
	}
	active := len(s.streams)
	s.mu.Unlock()

	for _, stream := range expired {
		stream.pipeline.Stop()
		s.removeFromStore(stream)

		s.metrics.StreamsExpired.Inc()
		s.metrics.ActiveStreams.Set(float64(active))
		s.bus.Publish(events.StreamExpiredEvent{
			StreamID:  stream.ID,
			Source:    stream.Source,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		s.logger.Info("Stream expired", "stream_id", stream.ID,
			"source", stream.Source, "lifetime_minutes", stream.LifetimeMinutes)
	}
}

// finishStream publishes the stopped event and updates metrics after a
// stream has been removed from the registry.
func (s *Service) finishStream(stream *Stream, active int, reason string) {
	s.metrics.StreamsStopped.Inc()
	s.metrics.ActiveStreams.Set(float64(active))
	s.bus.Publish(events.StreamStoppedEvent{
		StreamID:  stream.ID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	s.logger.Info("Stream stopped", "stream_id", stream.ID, "reason", reason)
}

// removeFromStore drops a persisted definition when its stream is gone for
// good. Shutdown deliberately does not call this.
func (s *Service) removeFromStore(stream *Stream) {
	if !stream.Persist || s.repo == nil {
		return
	}
	if err := s.repo.Delete(stream.ID); err != nil {
		s.logger.Error("Failed to remove stream from store", "stream_id", stream.ID, "error", err)
	}
}

// Package pipeline implements the per-stream processing pipeline: capture,
// letterbox preprocessing, pooled inference, and postprocessing with
// annotation. One goroutine per stage, joined by bounded queues.
//
// Queue policy: drop frames, never queue. When a stage's input is full the
// oldest queued frame is discarded so the newest frame always wins; a stale
// backlog is worthless for live detection.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/pyrowatch/pyrowatch/internal/detect"
	"github.com/pyrowatch/pyrowatch/internal/events"
	"github.com/pyrowatch/pyrowatch/internal/logging"
	"github.com/pyrowatch/pyrowatch/internal/metrics"
)

const (
	stageQueueSize = 32

	// stopTimeout bounds how long Stop waits for the stages to exit. A
	// blocked capture.Read on a stalled network source would otherwise hang
	// stream deletion, expiry, and shutdown.
	stopTimeout = 2 * time.Second
)

// Config carries everything a pipeline needs from the service layer.
type Config struct {
	StreamID            string
	Source              string
	Pool                *detect.Pool
	ClassNames          []string
	ConfidenceThreshold float32
	IoUThreshold        float32
	RecognitionInterval time.Duration
	OutputQueueSize     int
	Metrics             *metrics.Metrics
	Bus                 *events.Bus
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	FramesRead    uint64 `json:"frames_read"`
	FramesDropped uint64 `json:"frames_dropped"`
	Inferences    uint64 `json:"inferences"`
	Detections    uint64 `json:"detections"`
}

type rawFrame struct {
	mat gocv.Mat
	seq uint64
}

type preppedFrame struct {
	mat    gocv.Mat
	seq    uint64
	tensor []float32
	box    detect.Letterbox
}

type inferredFrame struct {
	mat    gocv.Mat
	seq    uint64
	output []float32
	shape  []int64
	box    detect.Letterbox
}

// Pipeline runs the four processing stages for one video stream.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	capture *gocv.VideoCapture
	output  *Output

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	stopping  atomic.Bool

	framesRead    atomic.Uint64
	framesDropped atomic.Uint64
	inferences    atomic.Uint64
	detections    atomic.Uint64
}

// New creates a pipeline for the given source. The source is opened in
// Start, not here.
func New(cfg Config) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:    cfg,
		logger: logging.GetLogger("pipeline"),
		output: NewOutput(cfg.OutputQueueSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start opens the video source and launches the stage goroutines.
func (p *Pipeline) Start() error {
	var startErr error
	p.startOnce.Do(func() {
		capture, err := openSource(p.cfg.Source)
		if err != nil {
			startErr = err
			return
		}
		p.capture = capture

		raw := make(chan rawFrame, stageQueueSize)
		prepped := make(chan preppedFrame, stageQueueSize)
		inferred := make(chan inferredFrame, stageQueueSize)

		p.wg.Add(4)
		go p.readerStage(raw)
		go p.preprocessStage(raw, prepped)
		go p.inferenceStage(prepped, inferred)
		go p.postprocessStage(inferred)

		go func() {
			p.wg.Wait()
			p.capture.Close()
			p.output.Close()
			p.cfg.Metrics.RemoveStream(p.cfg.StreamID)
			close(p.done)
		}()

		p.logger.Info("Pipeline started", "stream_id", p.cfg.StreamID, "source", p.cfg.Source)
	})
	return startErr
}

// openSource opens a camera index, file path, or URL. Digit-only sources are
// treated as camera device indexes.
func openSource(source string) (*gocv.VideoCapture, error) {
	if idx, err := strconv.Atoi(source); err == nil {
		capture, err := gocv.OpenVideoCapture(idx)
		if err != nil {
			return nil, fmt.Errorf("open camera %d: %w", idx, err)
		}
		return capture, nil
	}
	capture, err := gocv.OpenVideoCapture(source)
	if err != nil {
		return nil, fmt.Errorf("open source %q: %w", source, err)
	}
	return capture, nil
}

// Stop terminates all stages and releases the capture device. Idempotent;
// safe to call concurrently with a naturally ending source. The wait for the
// stages is bounded: a reader stuck inside capture.Read is detached and left
// to the cleanup goroutine, which releases the capture once the read returns.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.stopping.Store(true)
		p.cancel()
		select {
		case <-p.done:
			p.logger.Info("Pipeline stopped", "stream_id", p.cfg.StreamID)
		case <-time.After(stopTimeout):
			p.logger.Warn("Pipeline did not stop in time, detaching",
				"stream_id", p.cfg.StreamID, "timeout", stopTimeout)
		}
	})
}

// Done is closed when all stages have exited, whether by Stop or because the
// source ended.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// Stopping reports whether Stop was requested, distinguishing a requested
// stop from a source that ended on its own.
func (p *Pipeline) Stopping() bool {
	return p.stopping.Load()
}

// Output returns the annotated-frame broadcaster for feed subscriptions.
func (p *Pipeline) Output() *Output {
	return p.output
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		FramesRead:    p.framesRead.Load(),
		FramesDropped: p.framesDropped.Load(),
		Inferences:    p.inferences.Load(),
		Detections:    p.detections.Load(),
	}
}

// readerStage captures frames as fast as the source yields them and feeds
// the preprocess queue with drop-oldest overflow handling.
func (p *Pipeline) readerStage(out chan<- rawFrame) {
	defer p.wg.Done()
	defer close(out)

	var seq uint64
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		mat := gocv.NewMat()
		if ok := p.capture.Read(&mat); !ok || mat.Empty() {
			mat.Close()
			if p.ctx.Err() == nil {
				p.logger.Warn("Source ended or read failed", "stream_id", p.cfg.StreamID, "frames_read", seq)
			}
			return
		}

		seq++
		p.framesRead.Add(1)
		p.cfg.Metrics.FramesRead.WithLabelValues(p.cfg.StreamID).Inc()
		p.cfg.Metrics.FrameQueueDepth.WithLabelValues(p.cfg.StreamID).Set(float64(len(out)))

		frame := rawFrame{mat: mat, seq: seq}
		sent, dropped := offerDropOldest(p.ctx, out, frame, func(f rawFrame) { f.mat.Close() })
		if dropped {
			p.framesDropped.Add(1)
			p.cfg.Metrics.FramesDropped.WithLabelValues(p.cfg.StreamID).Inc()
		}
		if !sent {
			return
		}
	}
}

// offerDropOldest queues frame on out, discarding the oldest queued element
// when the queue is full so the newest frame always wins. discard releases a
// dropped element's resources. sent is false when ctx was cancelled before
// the frame could be queued; the frame itself is discarded in that case.
func offerDropOldest[T any](ctx context.Context, out chan T, frame T, discard func(T)) (sent, dropped bool) {
	select {
	case out <- frame:
		return true, false
	default:
	}
	select {
	case old := <-out:
		discard(old)
		dropped = true
	default:
	}
	select {
	case out <- frame:
		return true, dropped
	case <-ctx.Done():
		discard(frame)
		return false, dropped
	}
}

// preprocessStage letterboxes frames onto the model input.
func (p *Pipeline) preprocessStage(in <-chan rawFrame, out chan<- preppedFrame) {
	defer p.wg.Done()
	defer close(out)

	height, width := p.cfg.Pool.InputShape()
	for {
		select {
		case <-p.ctx.Done():
			drainRaw(in)
			return
		case frame, ok := <-in:
			if !ok {
				return
			}
			tensor, box, err := detect.Preprocess(frame.mat, height, width)
			if err != nil {
				p.logger.Warn("Preprocess failed", "stream_id", p.cfg.StreamID, "error", err)
				frame.mat.Close()
				continue
			}
			select {
			case out <- preppedFrame{mat: frame.mat, seq: frame.seq, tensor: tensor, box: box}:
			case <-p.ctx.Done():
				frame.mat.Close()
				drainRaw(in)
				return
			}
		}
	}
}

// inferenceStage checks a session out of the pool, runs the model, and
// passes the raw output on.
func (p *Pipeline) inferenceStage(in <-chan preppedFrame, out chan<- inferredFrame) {
	defer p.wg.Done()
	defer close(out)

	for {
		select {
		case <-p.ctx.Done():
			drainPrepped(in)
			return
		case frame, ok := <-in:
			if !ok {
				return
			}

			session, err := p.cfg.Pool.Acquire(p.ctx)
			if err != nil {
				frame.mat.Close()
				drainPrepped(in)
				return
			}

			start := time.Now()
			output, shape, err := session.Run(frame.tensor)
			p.cfg.Pool.Release(session)
			if err != nil {
				p.logger.Error("Inference failed", "stream_id", p.cfg.StreamID, "error", err)
				frame.mat.Close()
				continue
			}

			p.inferences.Add(1)
			p.cfg.Metrics.Inferences.WithLabelValues(p.cfg.StreamID).Inc()
			p.cfg.Metrics.InferenceDuration.Observe(time.Since(start).Seconds())

			select {
			case out <- inferredFrame{mat: frame.mat, seq: frame.seq, output: output, shape: shape, box: frame.box}:
			case <-p.ctx.Done():
				frame.mat.Close()
				drainPrepped(in)
				return
			}
		}
	}
}

// postprocessStage throttles to the recognition interval, decodes and
// suppresses detections, annotates the frame, and publishes the JPEG.
func (p *Pipeline) postprocessStage(in <-chan inferredFrame) {
	defer p.wg.Done()

	var lastRec time.Time
	for {
		select {
		case <-p.ctx.Done():
			drainInferred(in)
			return
		case frame, ok := <-in:
			if !ok {
				return
			}

			// Results faster than the recognition interval are discarded,
			// not delayed
			if time.Since(lastRec) < p.cfg.RecognitionInterval {
				frame.mat.Close()
				continue
			}
			lastRec = time.Now()

			detections, err := detect.Postprocess(
				frame.output, frame.shape, frame.box,
				p.cfg.ClassNames, p.cfg.ConfidenceThreshold, p.cfg.IoUThreshold)
			if err != nil {
				p.logger.Error("Postprocess failed", "stream_id", p.cfg.StreamID, "error", err)
				frame.mat.Close()
				continue
			}

			if len(detections) > 0 {
				p.detections.Add(uint64(len(detections)))
				for _, det := range detections {
					p.cfg.Metrics.Detections.WithLabelValues(det.Label).Inc()
				}
				p.publishDetections(frame.seq, detections)
			}

			detect.Annotate(&frame.mat, detections)
			jpeg, err := detect.EncodeJPEG(frame.mat)
			frame.mat.Close()
			if err != nil {
				p.logger.Warn("JPEG encode failed", "stream_id", p.cfg.StreamID, "error", err)
				continue
			}
			p.output.Publish(jpeg)
		}
	}
}

func (p *Pipeline) publishDetections(seq uint64, detections []detect.Detection) {
	evDets := make([]events.Detection, len(detections))
	for i, det := range detections {
		evDets[i] = events.Detection{
			Label:      det.Label,
			Confidence: det.Confidence,
			X1:         det.Box.Min.X,
			Y1:         det.Box.Min.Y,
			X2:         det.Box.Max.X,
			Y2:         det.Box.Max.Y,
		}
	}
	p.cfg.Bus.Publish(events.DetectionEvent{
		StreamID:   p.cfg.StreamID,
		Sequence:   seq,
		Detections: evDets,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

// The drain helpers release Mats left in a queue after cancellation so
// OpenCV memory is not leaked.

func drainRaw(in <-chan rawFrame) {
	for frame := range in {
		frame.mat.Close()
	}
}

func drainPrepped(in <-chan preppedFrame) {
	for frame := range in {
		frame.mat.Close()
	}
}

func drainInferred(in <-chan inferredFrame) {
	for frame := range in {
		frame.mat.Close()
	}
}

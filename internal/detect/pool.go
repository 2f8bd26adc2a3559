package detect

import (
	"context"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/pyrowatch/pyrowatch/internal/config"
	"github.com/pyrowatch/pyrowatch/internal/logging"
)

// Session runs one inference at a time over a loaded model instance.
type Session struct {
	inner      *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	pool       *Pool
}

// Run executes the model on a CHW float32 tensor of the pool's input shape.
// The returned slice is the raw output tensor with its shape.
func (s *Session) Run(input []float32) ([]float32, []int64, error) {
	tensor, err := ort.NewTensor(ort.NewShape(1, 3, int64(s.pool.inputHeight), int64(s.pool.inputWidth)), input)
	if err != nil {
		return nil, nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer tensor.Destroy()

	outputs := []ort.Value{nil}
	if err := s.inner.Run([]ort.Value{tensor}, outputs); err != nil {
		return nil, nil, fmt.Errorf("inference: %w", err)
	}
	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		outputs[0].Destroy()
		return nil, nil, fmt.Errorf("unexpected output tensor type %T", outputs[0])
	}
	defer out.Destroy()

	shape := out.GetShape()
	dims := make([]int64, len(shape))
	copy(dims, shape)

	data := out.GetData()
	result := make([]float32, len(data))
	copy(result, data)
	return result, dims, nil
}

// Pool is a fixed-size pool of inference sessions over one loaded model.
// Pool size bounds how many streams run inference concurrently; a session is
// never shared between two in-flight inferences.
type Pool struct {
	sessions    chan *Session
	all         []*Session
	inputHeight int
	inputWidth  int
	quit        chan struct{}
	closeOnce   sync.Once
	mu          sync.Mutex
	closed      bool
	logger      logging.Logger
}

// LoadPool loads the model and builds poolSize sessions, warming each one up
// so the first real request does not pay initialization cost.
func LoadPool(cfg config.YoloConfig, poolSize int) (*Pool, error) {
	logger := logging.GetLogger("detect")

	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model not found at %s: %w", cfg.ModelPath, err)
	}

	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("inspect model: %w", err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("expected single-input single-output model, got %d/%d", len(inputs), len(outputs))
	}

	inputDims := inputs[0].Dimensions
	if len(inputDims) != 4 {
		return nil, fmt.Errorf("expected NCHW model input, got shape %v", inputDims)
	}

	pool := &Pool{
		sessions:    make(chan *Session, poolSize),
		inputHeight: int(inputDims[2]),
		inputWidth:  int(inputDims[3]),
		quit:        make(chan struct{}),
		logger:      logger,
	}

	opts, err := sessionOptions(cfg.Providers, logger)
	if err != nil {
		return nil, err
	}
	if opts != nil {
		defer opts.Destroy()
	}

	for i := 0; i < poolSize; i++ {
		inner, err := ort.NewDynamicAdvancedSession(
			cfg.ModelPath,
			[]string{inputs[0].Name},
			[]string{outputs[0].Name},
			opts,
		)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("create session %d: %w", i, err)
		}
		session := &Session{
			inner:      inner,
			inputName:  inputs[0].Name,
			outputName: outputs[0].Name,
			pool:       pool,
		}
		pool.all = append(pool.all, session)
		pool.sessions <- session
	}

	if err := pool.warmup(); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("Model pool ready",
		"model", cfg.ModelPath,
		"pool_size", poolSize,
		"input", fmt.Sprintf("%dx%d", pool.inputWidth, pool.inputHeight))
	return pool, nil
}

// sessionOptions builds session options from the preferred provider list.
// Unavailable providers are skipped with a warning; an empty result means
// plain CPU execution.
func sessionOptions(providers []string, logger logging.Logger) (*ort.SessionOptions, error) {
	var opts *ort.SessionOptions
	for _, provider := range providers {
		switch provider {
		case "", "CPUExecutionProvider":
			// CPU is the implicit default
		case "CUDAExecutionProvider":
			cudaOpts, err := ort.NewCUDAProviderOptions()
			if err != nil {
				logger.Warn("CUDA provider unavailable, falling back", "error", err)
				continue
			}
			defer cudaOpts.Destroy()

			opts, err = ort.NewSessionOptions()
			if err != nil {
				return nil, fmt.Errorf("create session options: %w", err)
			}
			if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
				logger.Warn("Failed to enable CUDA provider, falling back to CPU", "error", err)
				opts.Destroy()
				opts = nil
				continue
			}
			logger.Info("Using CUDA execution provider")
			return opts, nil
		default:
			logger.Warn("Unknown execution provider, skipping", "provider", provider)
		}
	}
	return opts, nil
}

// warmup runs one inference per session with a zero tensor.
func (p *Pool) warmup() error {
	dummy := make([]float32, 3*p.inputHeight*p.inputWidth)
	for _, s := range p.all {
		if _, _, err := s.Run(dummy); err != nil {
			return fmt.Errorf("warmup: %w", err)
		}
	}
	p.logger.Info("Model warmup complete", "sessions", len(p.all))
	return nil
}

// InputShape returns the model input height and width.
func (p *Pool) InputShape() (height, width int) {
	return p.inputHeight, p.inputWidth
}

// Acquire blocks until a session is free, the pool closes, or the context
// ends.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	select {
	case s := <-p.sessions:
		return s, nil
	case <-p.quit:
		return nil, fmt.Errorf("model pool closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a session to the pool.
func (p *Pool) Release(s *Session) {
	if s == nil {
		return
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	select {
	case p.sessions <- s:
	default:
	}
}

// Close destroys all sessions. Callers must stop the pipelines first so no
// inference is in flight.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.quit)

		for _, s := range p.all {
			if s.inner != nil {
				_ = s.inner.Destroy()
			}
		}
		p.all = nil
		p.logger.Info("Model pool closed")
	})
}

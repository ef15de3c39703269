package detector

import (
	"context"
	"fmt"
	"image"
	"io"
	"path/filepath"
	"sync"

	"github.com/MrCodeEU/pulsegate/pkg/frame"
	"github.com/MrCodeEU/pulsegate/pkg/logging"
)

// State is the lifecycle phase of a Loader.
type State int

const (
	// ModelLoading means the backend is still being brought up.
	ModelLoading State = iota
	// Ready means detections are served by the backend.
	Ready
	// Failed means loading failed; detection is unavailable.
	Failed
)

func (s State) String() string {
	switch s {
	case ModelLoading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// LoadFunc brings up a backend. It may block for a long time.
type LoadFunc func(ctx context.Context) (Backend, error)

// Loader loads a backend in the background so frame sampling never waits on
// model files. While loading it reports no face; after a failed load every
// call returns ErrUnavailable.
type Loader struct {
	mu      sync.RWMutex
	state   State
	backend Backend
	err     error
	done    chan struct{}
}

// NewLoader starts load in a new goroutine.
func NewLoader(ctx context.Context, load LoadFunc) *Loader {
	l := &Loader{state: ModelLoading, done: make(chan struct{})}

	go func() {
		defer close(l.done)

		backend, err := load(ctx)
		l.mu.Lock()
		defer l.mu.Unlock()

		if err == nil && backend == nil {
			err = fmt.Errorf("loader returned no backend")
		}
		if err != nil {
			l.state = Failed
			l.err = err
			logging.Component("detector").Warnf("Face detector failed to load: %v", err)
			return
		}
		l.state = Ready
		l.backend = backend
		logging.Component("detector").Info("Face detector ready")
	}()

	return l
}

// State returns the current phase.
func (l *Loader) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Err returns the load error once the loader has failed.
func (l *Loader) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

// Wait blocks until loading finishes or ctx is done, and returns the load error.
func (l *Loader) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return l.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DetectFace implements the region selector's face detector contract.
func (l *Loader) DetectFace(f *frame.Frame) (image.Rectangle, bool, error) {
	l.mu.RLock()
	state, backend, err := l.state, l.backend, l.err
	l.mu.RUnlock()

	switch state {
	case Ready:
		return backend.DetectFace(f)
	case Failed:
		return image.Rectangle{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return image.Rectangle{}, false, nil
	}
}

// Close waits for loading to finish and releases the backend.
func (l *Loader) Close() error {
	<-l.done

	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.backend.(io.Closer); ok {
		l.backend = nil
		return c.Close()
	}
	return nil
}

// Open returns a loader for the named backend, or nil for "none".
// Pigo expects a "facefinder" cascade inside modelPath; dlib expects the
// go-face model files.
func Open(ctx context.Context, backend, modelPath string, minQuality float64) (*Loader, error) {
	switch backend {
	case "", "none":
		return nil, nil
	case "pigo":
		return NewLoader(ctx, func(ctx context.Context) (Backend, error) {
			return LoadPigo(filepath.Join(modelPath, "facefinder"), minQuality)
		}), nil
	case "dlib":
		return NewLoader(ctx, func(ctx context.Context) (Backend, error) {
			d := NewDlibDetector()
			if err := d.LoadModels(modelPath); err != nil {
				return nil, err
			}
			return d, nil
		}), nil
	default:
		return nil, fmt.Errorf("unknown detector backend: %s", backend)
	}
}

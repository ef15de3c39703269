package detector

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"github.com/Kagami/go-face"

	"github.com/MrCodeEU/pulsegate/pkg/frame"
	"github.com/MrCodeEU/pulsegate/pkg/logging"
)

// FaceEngine is the subset of *face.Recognizer the detector needs.
type FaceEngine interface {
	Recognize(imgData []byte) ([]face.Face, error)
	Close()
}

// DlibDetector detects faces with dlib via go-face. go-face only accepts encoded
// JPEG, so each frame is encoded before detection.
type DlibDetector struct {
	engine    FaceEngine
	modelPath string
	loaded    bool
	quality   int
	mu        sync.Mutex
	factory   func(string) (FaceEngine, error)
}

// NewDlibDetector creates an unloaded dlib detector.
func NewDlibDetector() *DlibDetector {
	return &DlibDetector{
		quality: 90,
		factory: func(path string) (FaceEngine, error) {
			return face.NewRecognizer(path)
		},
	}
}

// LoadModels loads the dlib models from modelPath. The directory must contain
// shape_predictor_5_face_landmarks.dat and dlib_face_recognition_resnet_model_v1.dat.
func (d *DlibDetector) LoadModels(modelPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.loaded {
		return nil
	}

	logging.Component("detector").Infof("Loading dlib face models from: %s", modelPath)

	engine, err := d.factory(modelPath)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}

	d.engine = engine
	d.modelPath = modelPath
	d.loaded = true
	return nil
}

// IsLoaded returns true if models are loaded.
func (d *DlibDetector) IsLoaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded
}

// DetectFace returns the largest face in f.
func (d *DlibDetector) DetectFace(f *frame.Frame) (image.Rectangle, bool, error) {
	if err := f.Validate(); err != nil {
		return image.Rectangle{}, false, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.Image(), &jpeg.Options{Quality: d.quality}); err != nil {
		return image.Rectangle{}, false, fmt.Errorf("failed to encode frame: %w", err)
	}

	// dlib is not reentrant, detections are serialized.
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.loaded {
		return image.Rectangle{}, false, ErrModelNotLoaded
	}

	faces, err := d.engine.Recognize(buf.Bytes())
	if err != nil {
		return image.Rectangle{}, false, fmt.Errorf("face detection failed: %w", err)
	}

	rects := make([]image.Rectangle, len(faces))
	for i, fc := range faces {
		rects[i] = fc.Rectangle
	}
	r, found := largest(rects)
	if found {
		logging.Component("detector").Debugf("dlib found %d face(s), using %v", len(faces), r)
	}
	return r, found, nil
}

// Close releases the dlib resources.
func (d *DlibDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.engine != nil {
		d.engine.Close()
		d.engine = nil
	}
	d.loaded = false
	return nil
}

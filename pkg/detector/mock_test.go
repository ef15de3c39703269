package detector

import (
	"image"

	"github.com/Kagami/go-face"

	"github.com/MrCodeEU/pulsegate/pkg/frame"
)

type MockFaceEngine struct {
	RecognizeFunc func(data []byte) ([]face.Face, error)
	CloseFunc     func()
}

func (m *MockFaceEngine) Recognize(data []byte) ([]face.Face, error) {
	if m.RecognizeFunc != nil {
		return m.RecognizeFunc(data)
	}
	return nil, nil
}

func (m *MockFaceEngine) Close() {
	if m.CloseFunc != nil {
		m.CloseFunc()
	}
}

type MockBackend struct {
	DetectFaceFunc func(f *frame.Frame) (image.Rectangle, bool, error)
	CloseFunc      func() error
}

func (m *MockBackend) DetectFace(f *frame.Frame) (image.Rectangle, bool, error) {
	if m.DetectFaceFunc != nil {
		return m.DetectFaceFunc(f)
	}
	return image.Rectangle{}, false, nil
}

func (m *MockBackend) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

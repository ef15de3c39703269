// Package frame defines the decoded video frames handed to the liveness pipeline
// and a live MJPEG stream source that produces them.
package frame

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"time"

	"golang.org/x/image/draw"
)

// Format is the pixel layout of Frame.Data.
type Format int

const (
	// FormatRGBA is 4 bytes per pixel, alpha ignored.
	FormatRGBA Format = iota
	// FormatRGB is packed 3 bytes per pixel.
	FormatRGB
	// FormatYUV420 is planar I420: full Y plane then quarter U and V planes.
	FormatYUV420
	// FormatGray is 1 byte per pixel luma.
	FormatGray
)

func (f Format) String() string {
	switch f {
	case FormatRGBA:
		return "RGBA"
	case FormatRGB:
		return "RGB"
	case FormatYUV420:
		return "YUV420"
	case FormatGray:
		return "GRAY"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// DataSize returns the number of bytes a width×height frame occupies in this format.
func (f Format) DataSize(width, height int) int {
	switch f {
	case FormatRGBA:
		return width * height * 4
	case FormatRGB:
		return width * height * 3
	case FormatYUV420:
		cw, ch := (width+1)/2, (height+1)/2
		return width*height + 2*cw*ch
	case FormatGray:
		return width * height
	default:
		return -1
	}
}

// Frame is one decoded image plus its capture time. Data is read-only once the
// frame is handed to the pipeline.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Format    Format
	Timestamp time.Time
}

// ErrInvalidFrame is returned when a frame's buffer does not match its geometry.
var ErrInvalidFrame = errors.New("invalid frame")

// Validate checks that the frame geometry and buffer agree.
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil frame", ErrInvalidFrame)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidFrame, f.Width, f.Height)
	}
	want := f.Format.DataSize(f.Width, f.Height)
	if want < 0 {
		return fmt.Errorf("%w: unknown format %s", ErrInvalidFrame, f.Format)
	}
	if len(f.Data) < want {
		return fmt.Errorf("%w: %s %dx%d needs %d bytes, got %d", ErrInvalidFrame, f.Format, f.Width, f.Height, want, len(f.Data))
	}
	return nil
}

// Bounds returns the frame rectangle anchored at the origin.
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

// RGB returns the 8-bit colour of pixel (x, y). Callers keep x, y in bounds.
func (f *Frame) RGB(x, y int) (r, g, b uint8) {
	switch f.Format {
	case FormatRGBA:
		i := (y*f.Width + x) * 4
		return f.Data[i], f.Data[i+1], f.Data[i+2]
	case FormatRGB:
		i := (y*f.Width + x) * 3
		return f.Data[i], f.Data[i+1], f.Data[i+2]
	case FormatYUV420:
		cw := (f.Width + 1) / 2
		ySize := f.Width * f.Height
		cSize := cw * ((f.Height + 1) / 2)
		ci := (y/2)*cw + x/2
		return color.YCbCrToRGB(f.Data[y*f.Width+x], f.Data[ySize+ci], f.Data[ySize+cSize+ci])
	case FormatGray:
		v := f.Data[y*f.Width+x]
		return v, v, v
	}
	return 0, 0, 0
}

// Image exposes the frame as an image.Image. RGBA, YUV420 and Gray frames are
// wrapped without copying; packed RGB is converted.
func (f *Frame) Image() image.Image {
	rect := f.Bounds()
	switch f.Format {
	case FormatRGBA:
		return &image.RGBA{Pix: f.Data, Stride: f.Width * 4, Rect: rect}
	case FormatYUV420:
		cw := (f.Width + 1) / 2
		ySize := f.Width * f.Height
		cSize := cw * ((f.Height + 1) / 2)
		return &image.YCbCr{
			Y:              f.Data[:ySize],
			Cb:             f.Data[ySize : ySize+cSize],
			Cr:             f.Data[ySize+cSize : ySize+2*cSize],
			YStride:        f.Width,
			CStride:        cw,
			SubsampleRatio: image.YCbCrSubsampleRatio420,
			Rect:           rect,
		}
	case FormatGray:
		return &image.Gray{Pix: f.Data, Stride: f.Width, Rect: rect}
	}

	out := image.NewRGBA(rect)
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			r, g, b := f.RGB(x, y)
			i := out.PixOffset(x, y)
			out.Pix[i], out.Pix[i+1], out.Pix[i+2], out.Pix[i+3] = r, g, b, 0xff
		}
	}
	return out
}

// FromImage copies img into a new RGBA frame stamped with ts.
func FromImage(img image.Image, ts time.Time) *Frame {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) || rgba.Stride != b.Dx()*4 {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return &Frame{
		Data:      rgba.Pix,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Format:    FormatRGBA,
		Timestamp: ts,
	}
}

// Solid builds a uniform RGB frame. Useful for hosts that need a placeholder and
// for tests.
func Solid(width, height int, c color.RGBA, ts time.Time) *Frame {
	data := make([]byte, width*height*3)
	for i := 0; i < len(data); i += 3 {
		data[i], data[i+1], data[i+2] = c.R, c.G, c.B
	}
	return &Frame{Data: data, Width: width, Height: height, Format: FormatRGB, Timestamp: ts}
}

package frame

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"time"

	"github.com/MrCodeEU/pulsegate/pkg/logging"
)

// maxJPEGSize bounds a single frame so a corrupt stream cannot grow the buffer forever.
const maxJPEGSize = 16 << 20

// ErrFrameTooLarge is returned when no end-of-image marker arrives within maxJPEGSize bytes.
var ErrFrameTooLarge = errors.New("mjpeg frame exceeds size limit")

// MJPEGSource splits a live MJPEG byte stream (for example ffmpeg writing
// "-f mjpeg pipe:1") into decoded frames. Frames are stamped on arrival.
type MJPEGSource struct {
	r     *bufio.Reader
	clock func() time.Time
	buf   bytes.Buffer

	decoded uint64
	skipped uint64
}

// NewMJPEGSource wraps r. The source does not own r.
func NewMJPEGSource(r io.Reader) *MJPEGSource {
	return &MJPEGSource{
		r:     bufio.NewReaderSize(r, 64<<10),
		clock: time.Now,
	}
}

// Next reads and decodes the next complete JPEG. Undecodable images are skipped.
// It returns io.EOF once the stream ends.
func (s *MJPEGSource) Next() (*Frame, error) {
	for {
		data, err := s.nextJPEG()
		if err != nil {
			return nil, err
		}

		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			s.skipped++
			logging.Component("frame").Debugf("Skipping undecodable MJPEG frame: %v", err)
			continue
		}

		s.decoded++
		return FromImage(img, s.clock()), nil
	}
}

// nextJPEG returns the bytes from an SOI marker through the matching EOI marker.
func (s *MJPEGSource) nextJPEG() ([]byte, error) {
	if err := s.seekSOI(); err != nil {
		return nil, err
	}

	s.buf.Reset()
	s.buf.Write([]byte{0xFF, 0xD8})

	var prev byte
	for {
		c, err := s.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		s.buf.WriteByte(c)
		if prev == 0xFF && c == 0xD9 {
			out := make([]byte, s.buf.Len())
			copy(out, s.buf.Bytes())
			return out, nil
		}
		if s.buf.Len() > maxJPEGSize {
			return nil, ErrFrameTooLarge
		}
		prev = c
	}
}

func (s *MJPEGSource) seekSOI() error {
	var prev byte
	for {
		c, err := s.r.ReadByte()
		if err != nil {
			return err
		}
		if prev == 0xFF && c == 0xD8 {
			return nil
		}
		prev = c
	}
}

// Stream pushes frames to out until ctx is cancelled or the stream ends.
// The channel is closed on return. A clean end of stream returns nil.
func (s *MJPEGSource) Stream(ctx context.Context, out chan<- *Frame) error {
	defer close(out)

	for {
		f, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("mjpeg stream: %w", err)
		}

		select {
		case out <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stats returns how many frames were decoded and how many were skipped.
func (s *MJPEGSource) Stats() (decoded, skipped uint64) {
	return s.decoded, s.skipped
}

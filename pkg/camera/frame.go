package camera

import (
	"errors"
	"fmt"
	"time"

	"gocv.io/x/gocv"
)

// Format describes how Frame.Data is encoded.
type Format string

const (
	// FormatJPEG is a compressed JPEG image.
	FormatJPEG Format = "jpeg"
	// FormatBGR is packed 8-bit BGR, Width*Height*3 bytes.
	FormatBGR Format = "bgr"
)

// ErrEmptyFrame is returned for frames without pixel data.
var ErrEmptyFrame = errors.New("camera: empty frame")

// Frame is one image delivered by the camera collaborator.
type Frame struct {
	Data      []byte
	Format    Format
	Width     int
	Height    int
	Rotation  int // Degrees clockwise still to be applied by the consumer
	Timestamp time.Time
}

// Validate checks that the frame carries usable pixel data.
func (f Frame) Validate() error {
	if len(f.Data) == 0 {
		return ErrEmptyFrame
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("camera: invalid frame size %dx%d", f.Width, f.Height)
	}
	switch f.Format {
	case FormatJPEG:
	case FormatBGR:
		if want := f.Width * f.Height * 3; len(f.Data) != want {
			return fmt.Errorf("camera: bgr frame has %d bytes, want %d", len(f.Data), want)
		}
	default:
		return fmt.Errorf("camera: unknown format %q", f.Format)
	}
	switch f.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("camera: invalid rotation %d", f.Rotation)
	}
	return nil
}

// DecodeJPEG wraps an uploaded JPEG as a Frame, reading its dimensions.
func DecodeJPEG(data []byte, rotation int, ts time.Time) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, ErrEmptyFrame
	}

	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return Frame{}, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()

	if img.Empty() {
		return Frame{}, fmt.Errorf("decode image: %w", ErrEmptyFrame)
	}

	f := Frame{
		Data:      data,
		Format:    FormatJPEG,
		Width:     img.Cols(),
		Height:    img.Rows(),
		Rotation:  rotation,
		Timestamp: ts,
	}
	return f, f.Validate()
}

// ToJPEG returns the frame as an upright JPEG, applying any pending rotation.
func (f Frame) ToJPEG(quality int) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if f.Format == FormatJPEG && f.Rotation == 0 {
		return f.Data, nil
	}

	var img gocv.Mat
	var err error
	if f.Format == FormatJPEG {
		img, err = gocv.IMDecode(f.Data, gocv.IMReadColor)
	} else {
		img, err = gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Data)
	}
	if err != nil {
		return nil, fmt.Errorf("load frame: %w", err)
	}
	defer img.Close()

	return encodeJPEG(img, f.Rotation, quality)
}

func encodeJPEG(img gocv.Mat, rotation, quality int) ([]byte, error) {
	src := img
	if flag, ok := rotateFlag(rotation); ok {
		rotated := gocv.NewMat()
		defer rotated.Close()
		gocv.Rotate(img, &rotated, flag)
		src = rotated
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, src, []int{int(gocv.IMWriteJpegQuality), quality})
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	// GetBytes aliases C memory freed by Close.
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

func rotateFlag(rotation int) (gocv.RotateFlag, bool) {
	switch rotation {
	case 90:
		return gocv.Rotate90Clockwise, true
	case 180:
		return gocv.Rotate180Clockwise, true
	case 270:
		return gocv.Rotate90CounterClockwise, true
	}
	return 0, false
}

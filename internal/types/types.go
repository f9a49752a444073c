package types

import (
	"image"
	"image/color"
	"time"
)

// DescriptorSize is the length of a face feature vector (dlib ResNet).
const DescriptorSize = 128

// Descriptor is the feature vector produced for a single face.
type Descriptor [DescriptorSize]float32

// Detection is one face found by a recognition pass.
type Detection struct {
	Box        image.Rectangle
	Descriptor Descriptor
}

// Decision is the access outcome attached to a tracked face.
type Decision int

const (
	Denied Decision = iota
	Granted
)

func (d Decision) String() string {
	if d == Granted {
		return "Access Granted"
	}
	return "Access Denied"
}

// Overlay is a single annotation drawn over a displayed frame.
type Overlay struct {
	Box   image.Rectangle
	Text  string
	Color color.RGBA
}

// Frame is a captured image stored as interleaved bytes in camera (BGR) order.
// A Frame must not be modified once it has been handed to a reader.
type Frame struct {
	Width      int
	Height     int
	Channels   int
	Pix        []byte
	CapturedAt time.Time
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	c := *f
	c.Pix = make([]byte, len(f.Pix))
	copy(c.Pix, f.Pix)
	return &c
}

// Valid reports whether the frame is a well-formed 3-channel image.
func (f *Frame) Valid() bool {
	return f != nil && f.Channels == 3 && f.Width > 0 && f.Height > 0 &&
		len(f.Pix) == f.Width*f.Height*f.Channels
}

// Bounds returns the frame rectangle anchored at the origin.
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

// MeanIntensity averages every byte of the frame across all channels.
func (f *Frame) MeanIntensity() float64 {
	if f == nil || len(f.Pix) == 0 {
		return 0
	}
	var sum uint64
	for _, v := range f.Pix {
		sum += uint64(v)
	}
	return float64(sum) / float64(len(f.Pix))
}

// Image exposes the frame as an RGB image.Image without copying. Channel
// order is swapped from BGR on access.
func (f *Frame) Image() image.Image {
	return bgrImage{f}
}

type bgrImage struct {
	f *Frame
}

func (b bgrImage) ColorModel() color.Model { return color.RGBAModel }

func (b bgrImage) Bounds() image.Rectangle { return b.f.Bounds() }

func (b bgrImage) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}.In(b.f.Bounds())) {
		return color.RGBA{}
	}
	i := (y*b.f.Width + x) * b.f.Channels
	if b.f.Channels < 3 {
		v := b.f.Pix[i]
		return color.RGBA{R: v, G: v, B: v, A: 0xff}
	}
	return color.RGBA{R: b.f.Pix[i+2], G: b.f.Pix[i+1], B: b.f.Pix[i], A: 0xff}
}

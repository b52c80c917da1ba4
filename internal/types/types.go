// Package types holds the data model shared across every pipeline stage:
// Frame, BoxBuf (detection), Track, TrackBuf, and NAL.
package types

import "time"

// Frame is a captured raw image. Data has length Width*Height*Channels.
// Ownership: Frame is lent by reference to Detect and Encode through their
// mailboxes; downstream stages must copy, not retain, the underlying bytes.
type Frame struct {
	ID         uint64
	Width      int
	Height     int
	Channels   int
	Data       []byte
	TraceID    string
	CapturedAt time.Time
}

// BoxType is the fixed detector vocabulary.
type BoxType int

const (
	Unknown BoxType = iota
	Person
	Pet
	Vehicle
)

func (t BoxType) String() string {
	switch t {
	case Person:
		return "Person"
	case Pet:
		return "Pet"
	case Vehicle:
		return "Vehicle"
	default:
		return "Unknown"
	}
}

// BoxBuf is one detection in pixel coordinates of the captured frame.
// Immutable once emitted.
type BoxBuf struct {
	Type    BoxType
	FrameID uint64
	X, Y    int
	W, H    int
}

// CenterX and CenterY return the detection box's center point.
func (b BoxBuf) CenterX() float64 { return float64(b.X) + float64(b.W)/2 }
func (b BoxBuf) CenterY() float64 { return float64(b.Y) + float64(b.H)/2 }

// TrackState is the one-way Init -> Active transition of a Track.
type TrackState int

const (
	Init TrackState = iota
	Active
)

func (s TrackState) String() string {
	if s == Active {
		return "Active"
	}
	return "Init"
}

// TrackBuf is the overlay record Track hands to Encode.
type TrackBuf struct {
	Type    BoxType
	TrackID uint64
	X, Y    int
	W, H    int
}

// NAL is one independently deliverable H.264 encoder output payload.
type NAL []byte

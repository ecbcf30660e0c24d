// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package wpeembed

import "time"

// TouchKind is the action of a host touch event.
type TouchKind int

const (
	TouchDown TouchKind = iota
	TouchUp
	TouchMove
	TouchCancel
)

// String returns the string representation of a TouchKind.
func (k TouchKind) String() string {
	switch k {
	case TouchDown:
		return "down"
	case TouchUp:
		return "up"
	case TouchMove:
		return "move"
	case TouchCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// TouchPoint is one contact of a touch event.
type TouchPoint struct {
	ID int32
	X  float64
	Y  float64
}

// TouchEvent is a host touch event with every active contact.
type TouchEvent struct {
	Kind      TouchKind
	Timestamp time.Duration // monotonic time of the event
	Points    []TouchPoint
}

// InputEventType is the engine-side event kind.
type InputEventType int

const (
	InputTouchDown InputEventType = iota
	InputTouchUp
	InputTouchMove
	InputTouchCancel
)

// InputEvent is one engine-side touch event for a single contact.
type InputEvent struct {
	Type      InputEventType
	Timestamp time.Duration
	PointID   int32
	X         float64
	Y         float64
}

func (k TouchKind) inputType() (InputEventType, bool) {
	switch k {
	case TouchDown:
		return InputTouchDown, true
	case TouchUp:
		return InputTouchUp, true
	case TouchMove:
		return InputTouchMove, true
	case TouchCancel:
		return InputTouchCancel, true
	default:
		return 0, false
	}
}

// inputEvents converts a host touch event into one engine event per point.
func (ev TouchEvent) inputEvents() []InputEvent {
	typ, ok := ev.Kind.inputType()
	if !ok {
		return nil
	}
	out := make([]InputEvent, 0, len(ev.Points))
	for _, pt := range ev.Points {
		out = append(out, InputEvent{
			Type:      typ,
			Timestamp: ev.Timestamp,
			PointID:   pt.ID,
			X:         pt.X,
			Y:         pt.Y,
		})
	}
	return out
}

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package wpeembed

// ViewID names one host-owned rendering surface and the logical web view behind it.
type ViewID string

// NativeWindow is the host's opaque native window handle. Zero means none.
type NativeWindow uintptr

// ImageHandle is an opaque GPU image created from a Buffer for one draw.
type ImageHandle uintptr

// BufferFormat describes a pixel layout the display prefers for buffers.
type BufferFormat struct {
	FourCC   uint32 // DRM fourcc code
	Modifier uint64 // DRM format modifier (0 = linear)
}

// FormatRGBA8888 is DRM_FORMAT_RGBA8888.
const FormatRGBA8888 uint32 = 0x34324152

// Buffer is a compositor frame owned by the engine. The pipeline holds one
// reference per slot and calls Release when it drops it.
type Buffer interface {
	// ImportImage creates an image handle the renderer can draw.
	ImportImage() (ImageHandle, error)
	// Release drops the holder's reference.
	Release()
}

// BufferObserver is the buffer owner. Both callbacks run on the native loop.
type BufferObserver interface {
	// BufferRendered reports that a newly committed buffer was drawn.
	BufferRendered(buf Buffer)
	// BufferReleased hands a committed buffer back after its successor was promoted.
	BufferReleased(buf Buffer)
}

// Renderer draws one image per frame onto a native window.
// It is only used from the native loop.
type Renderer interface {
	Initialize(window NativeWindow, width, height int) error
	Resize(width, height int)
	Render(image ImageHandle)
	Cleanup()
}

// RendererFactory creates a renderer for a view.
type RendererFactory func() Renderer

// GraphicsConnector establishes the graphics (EGL) display connection.
type GraphicsConnector interface {
	Connect() error
	Terminate()
}

// LoadEvent is a navigation progress step.
type LoadEvent int

const (
	LoadStarted LoadEvent = iota
	LoadRedirected
	LoadCommitted
	LoadFinished
)

// String returns the string representation of a LoadEvent.
func (e LoadEvent) String() string {
	switch e {
	case LoadStarted:
		return "started"
	case LoadRedirected:
		return "redirected"
	case LoadCommitted:
		return "committed"
	case LoadFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Signal identifies an engine view notification.
type Signal int

const (
	SignalLoadChanged Signal = iota
	SignalLoadFailed
	SignalLoadFailedWithTLSErrors
)

// String returns the signal name as the engine spells it.
func (s Signal) String() string {
	switch s {
	case SignalLoadChanged:
		return "load-changed"
	case SignalLoadFailed:
		return "load-failed"
	case SignalLoadFailedWithTLSErrors:
		return "load-failed-with-tls-errors"
	default:
		return "unknown"
	}
}

// TLSErrorFlags is a bit set of certificate problems.
type TLSErrorFlags uint32

const (
	TLSUnknownCA TLSErrorFlags = 1 << iota
	TLSBadIdentity
	TLSNotActivated
	TLSExpired
	TLSRevoked
	TLSInsecure
	TLSGenericError
)

// TLSErrorPolicy decides how the engine treats certificate errors.
type TLSErrorPolicy int

const (
	TLSErrorsIgnore TLSErrorPolicy = iota
	TLSErrorsFail
)

// SignalEvent carries the payload of an engine view signal.
type SignalEvent struct {
	Signal    Signal
	Load      LoadEvent
	URI       string
	Err       error
	TLSErrors TLSErrorFlags
}

// SignalHandler handles a signal. For the failure signals, returning true
// stops other handlers from running.
type SignalHandler func(ev SignalEvent) bool

// HandlerID is a connected signal handler token.
type HandlerID uint64

// EngineView is the browser engine's view object. Every method must be
// called on the native loop.
type EngineView interface {
	// View returns the platform view the engine renders through.
	View() *View
	LoadURL(url string)
	URI() string
	SetUserAgent(userAgent string)
	Connect(signal Signal, handler SignalHandler) HandlerID
	Disconnect(id HandlerID)
	// Release drops the engine view. Handlers must be disconnected first.
	Release()
}

// Engine is the embedded browser engine. Start and NewWebView run on the
// native loop.
type Engine interface {
	// Start creates the default browsing context. Helper processes are
	// requested from provider.
	Start(display Display, provider ProcessProvider) error
	NewWebView(display Display) (EngineView, error)
	SetTLSErrorPolicy(policy TLSErrorPolicy)
	Close() error
}

// ProcessProvider launches and terminates helper processes for the engine.
type ProcessProvider interface {
	Launch(role ProcessRole, channel Channel) int64
	Terminate(pid int64)
}

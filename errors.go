package relay

import "errors"

// Sentinel errors for the forwarding core. See spec §7 for the full
// taxonomy; FullQueueDrop, ConnectFailed and ConnectionLost are reported
// through counters and OneShot signals rather than returned errors, since
// the send path never returns an error to the caller.
var (
	// ErrUnsupportedMetadata names a metadata key a storage plugin does
	// not recognize. The storage package defines and returns its own
	// storage.ErrUnsupportedMetadata; it never returns this value.
	ErrUnsupportedMetadata = errors.New("unsupported metadata key")
	// ErrInvalidConfiguration names a rejected archive/retention
	// configuration. The storage package defines and returns its own
	// storage.ErrInvalidConfiguration; it never returns this value.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrUnknownDestination is returned by Manager operations addressed
	// to a destination that was never started.
	ErrUnknownDestination = errors.New("unknown destination")
	// ErrAlreadyStarted is returned by StartClient for a destination that
	// is already registered.
	ErrAlreadyStarted = errors.New("client already started")
	// ErrInvalidDestination is returned when a destination string cannot
	// be parsed.
	ErrInvalidDestination = errors.New("invalid destination")
	// ErrUnknownPlugin names an unregistered storage plugin. storage.New
	// returns storage.ErrUnknownPlugin for that case, not this value.
	ErrUnknownPlugin = errors.New("unknown storage plugin")
	// ErrClosed names a session whose Disconnect has completed. No
	// function in this package returns it: session methods report no
	// errors after Disconnect.
	ErrClosed = errors.New("session closed")
)

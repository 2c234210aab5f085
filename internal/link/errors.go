package link

import "errors"

// ErrLinkLost is surfaced when the retry budget is exhausted: a data packet
// was resent MaxRetries times without an acknowledgement. The owning game is
// paused, not torn down.
var ErrLinkLost = errors.New("link lost: retry budget exhausted")

// ErrDesync is surfaced when a sequence gap stays open past the gap timeout.
// The connection is closed; the peer must reconnect with a fresh IDENTIFY.
var ErrDesync = errors.New("protocol desync: sequence gap not resolved")

// ErrChannelClosed is returned by Send after the channel has shut down.
var ErrChannelClosed = errors.New("channel closed")

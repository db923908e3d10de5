package funnel

import "github.com/yofukashino/go-funnel/internal/constants"

// Re-exported defaults for the public API.
const (
	AsyncDefaultBuffers  = constants.AsyncDefaultBuffers
	AsyncMinBuffers      = constants.AsyncMinBuffers
	AsyncMaxBuffers      = constants.AsyncMaxBuffers
	SingleDefaultBuffers = constants.SingleDefaultBuffers
	SingleMinBuffers     = constants.SingleMinBuffers
	SingleMaxBuffers     = constants.SingleMaxBuffers
	FallbackFrameRate    = constants.FallbackFrameRate
)

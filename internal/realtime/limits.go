package realtime

import "time"

const (
	// Max bytes per inbound frame. Clients only send hello and history fetches.
	maxFrameBytes = 16 << 10

	// Max bearer token length accepted in hello.
	maxTokenBytes = 4 << 10
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limit (inbound frames per window).
	rateLimitEvents = 60
	rateLimitWindow = 10 * time.Second

	// A connection that has not said hello by then is dropped.
	helloTimeout = 10 * time.Second
)

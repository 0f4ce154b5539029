package chatroom

import "github.com/aegistudio/chatroom/internal/chatlog"

// config holds the server's tunables. It is never mutated after Listen
// returns; Options only run during construction.
type config struct {
	backlog       int
	maxPacketSize int
	eventBatch    int
	logger        chatlog.Logger
}

func defaultConfig() config {
	return config{
		backlog:       10,
		maxPacketSize: 0, // 0 defers to wire.DefaultMaxPacketSize
		eventBatch:    128,
		logger:        chatlog.Default(),
	}
}

// Option configures a Server at construction time.
type Option func(*config)

// WithBacklog sets the listen(2) backlog. The CLI defaults this to 10
// when its second argument is omitted.
func WithBacklog(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.backlog = n
		}
	}
}

// WithMaxPacketSize bounds the size of a single chat or command packet's
// payload.
func WithMaxPacketSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxPacketSize = n
		}
	}
}

// WithEventBatch sets how many ready events the reactor is asked to
// report per Wait call.
func WithEventBatch(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.eventBatch = n
		}
	}
}

// WithLogger overrides the default slog-backed logger.
func WithLogger(l chatlog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

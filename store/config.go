package store

// AckMode controls whether a write waits for the backend's acknowledgment.
type AckMode int

const (
	// AckSync waits for the backend to confirm the write (default).
	AckSync AckMode = iota

	// AckNone dispatches the write and returns immediately. The outcome is
	// logged, never returned; callers needing confirmation use AckSync.
	AckNone
)

// Config holds configuration for the Store.
type Config struct {
	// DefaultAck is the acknowledgment mode used when a call passes an
	// unrecognized mode. Default: AckSync.
	DefaultAck AckMode
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultAck: AckSync,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.DefaultAck != AckSync && c.DefaultAck != AckNone {
		c.DefaultAck = AckSync
	}
}

package shinpan

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds the overrides after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port    int
	store   string
	logger  *slog.Logger
	version string
}

// WithPort overrides the TCP port from config (SHINPAN_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithStore overrides the state store backend from config (SHINPAN_STORE env
// var): memory, file, postgres, or redis.
func WithStore(backend string) Option {
	return func(o *resolvedOptions) { o.store = backend }
}

// WithLogger sets the structured logger for the App.
// If not set, a JSON logger at the configured level is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

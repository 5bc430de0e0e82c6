package sarfs

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meigma/sarfs/http"
	"github.com/meigma/sarfs/sar"
)

// defaultRetryDelay is the bootstrap cool-down after a failed attempt.
const defaultRetryDelay = 3 * time.Second

// Yielder gives up the processor while a caller polls for completion.
type Yielder interface {
	Yield()
}

// YieldFunc adapts a function to a Yielder.
type YieldFunc func()

// Yield calls f.
func (f YieldFunc) Yield() { f() }

// GoschedYielder yields to the Go scheduler.
var GoschedYielder Yielder = YieldFunc(runtime.Gosched)

// Option configures a FileSystem.
type Option func(*FileSystem)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(fs *FileSystem) {
		fs.logger = logger
	}
}

// WithTransport sets the HTTP transport (default: an http.Manager).
func WithTransport(t http.Transport) Option {
	return func(fs *FileSystem) {
		fs.transport = t
	}
}

// WithYielder sets how blocking calls yield while polling
// (default: GoschedYielder).
func WithYielder(y Yielder) Option {
	return func(fs *FileSystem) {
		fs.yielder = y
	}
}

// WithPriorityPolicy sets the implicit priority used by Open and ReadAll
// (default: DefaultPriorityPolicy).
func WithPriorityPolicy(p PriorityPolicy) Option {
	return func(fs *FileSystem) {
		fs.policy = p
	}
}

// WithRegisterer registers the file system's Prometheus metrics.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(fs *FileSystem) {
		fs.registerer = r
	}
}

// WithRetryDelay sets the bootstrap cool-down after a failure (default: 3s).
func WithRetryDelay(d time.Duration) Option {
	return func(fs *FileSystem) {
		fs.retryDelay = d
	}
}

// WithPackageOptions adds options used whenever an archive is opened.
func WithPackageOptions(opts ...sar.Option) Option {
	return func(fs *FileSystem) {
		fs.packageOptions = append(fs.packageOptions, opts...)
	}
}

package errs

import (
	"log/slog"
	"sync"
)

// Reporter surfaces recoverable failures to whoever is watching (a toast,
// a log line). Report must not block and must not panic.
type Reporter interface {
	Report(err error)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(err error)

func (f ReporterFunc) Report(err error) { f(err) }

// LogReporter reports through slog. Validation failures log at warn,
// everything else at error.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) Report(err error) {
	if err == nil {
		return
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if Kind(err) == "validation" {
		logger.Warn("rejected input", "err", Loggable(err))
		return
	}
	logger.Error("operation failed", "err", Loggable(err))
}

// Collector records reported errors in order. Safe for concurrent use.
type Collector struct {
	mu   sync.Mutex
	errs []error
}

func (c *Collector) Report(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
}

// Errors returns a copy of everything reported so far.
func (c *Collector) Errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]error, len(c.errs))
	copy(out, c.errs)
	return out
}

// Package logger sets up the daemon's singleton zerolog logger: stdout,
// syslog, or a rotatable file sink, matching the ambient logging stack the
// rest of the daemon writes against via zerolog/log.
package logger

import (
	"context"
	"log/syslog"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const LogPrefix = "wifimgrd"

var (
	mu       sync.Mutex
	fileSink *FileSink
)

// New builds the process-wide zerolog logger. Exactly one of doSyslog or a
// non-empty logFile should be set; neither means stdout.
func New(ctx context.Context, doSyslog bool, logFile string) (context.Context, *zerolog.Logger, error) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var l zerolog.Logger
	switch {
	case doSyslog:
		w, err := syslog.New(syslog.LOG_DAEMON, LogPrefix)
		if err != nil {
			return ctx, nil, err
		}
		l = zerolog.New(w)
	case logFile != "":
		sink, err := NewFileSink(logFile)
		if err != nil {
			return ctx, nil, err
		}
		mu.Lock()
		fileSink = sink
		mu.Unlock()
		go func() {
			<-ctx.Done()
			sink.Close()
		}()
		l = zerolog.New(sink)
	default:
		l = log.Logger
	}

	l = l.With().Timestamp().Logger()
	ctx = l.WithContext(ctx)
	log.Logger = l
	return ctx, &l, nil
}

// SetLogLevel parses level (falling back to debug if debug is set) and
// applies it to *l, returning the updated logger.
func SetLogLevel(l *zerolog.Logger, level string, debug bool) (*zerolog.Logger, error) {
	if debug {
		level = "debug"
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return l, err
	}
	updated := l.Level(parsed)
	log.Logger = updated
	return &updated, nil
}

// ReOpen re-opens the active file sink, for logrotate-style SIGUSR1
// handling. A no-op when logging to stdout or syslog.
func ReOpen() error {
	mu.Lock()
	defer mu.Unlock()
	if fileSink == nil {
		return nil
	}
	return fileSink.Reopen()
}

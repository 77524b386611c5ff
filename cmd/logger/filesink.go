package logger

import (
	"log"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
)

const (
	logFileMode  = 0644
	logDropLimit = 100
)

// FileSink is a non-blocking log file writer that survives logrotate: Reopen
// swaps the underlying file handle without interrupting writers.
type FileSink struct {
	filename string
	wr       diode.Writer
	lock     sync.RWMutex
}

func NewFileSink(file string) (*FileSink, error) {
	wr, err := openSink(file)
	if err != nil {
		return nil, err
	}
	return &FileSink{filename: file, wr: wr}, nil
}

func (f *FileSink) Write(p []byte) (n int, err error) {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return f.wr.Write(p)
}

func (f *FileSink) WriteLevel(level zerolog.Level, p []byte) (n int, err error) {
	return f.Write(p)
}

func (f *FileSink) Close() error {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.wr.Close()
}

// Reopen points the sink at a fresh inode under the same name.
func (f *FileSink) Reopen() error {
	f.lock.Lock()
	defer f.lock.Unlock()

	newWr, err := openSink(f.filename)
	if err != nil {
		return err
	}

	f.wr.Close()
	f.wr = newWr

	return nil
}

func openSink(file string) (diode.Writer, error) {
	fh, err := os.OpenFile(file, os.O_WRONLY|os.O_CREATE|os.O_APPEND, logFileMode)
	if err != nil {
		return diode.Writer{}, err
	}
	wr := diode.NewWriter(fh, logDropLimit, 0, func(missed int) {
		log.Printf("dropped %d log messages", missed)
	})
	return wr, nil
}

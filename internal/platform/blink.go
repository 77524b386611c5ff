package platform

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Blinker is the GPIO identification LED contract. Real GPIO access is
// external to this daemon; the default implementation logs instead of
// driving a pin.
type Blinker interface {
	Open() error
	On() error
	Off() error
	Close() error
}

// LoggingBlinker satisfies Blinker by logging transitions, preserving the
// contract's open/close discipline for callers that don't have real GPIO
// hardware wired in.
type LoggingBlinker struct{}

func (LoggingBlinker) Open() error  { log.Info().Msg("blink device open"); return nil }
func (LoggingBlinker) On() error    { return nil }
func (LoggingBlinker) Off() error   { return nil }
func (LoggingBlinker) Close() error { log.Info().Msg("blink device close"); return nil }

// Identify runs open → (on/off × frequency*interval) × count, pause between
// groups → close, closing the device even if Open fails.
func Identify(b Blinker, count, frequency int, interval, pause time.Duration) (err error) {
	defer func() {
		if cerr := b.Close(); err == nil {
			err = cerr
		}
	}()
	if err = b.Open(); err != nil {
		return err
	}
	blinks := frequency * int(interval/time.Second)
	if blinks <= 0 {
		blinks = 1
	}
	for g := 0; g < count; g++ {
		for i := 0; i < blinks; i++ {
			if err = b.On(); err != nil {
				return err
			}
			time.Sleep(interval / 2)
			if err = b.Off(); err != nil {
				return err
			}
			time.Sleep(interval / 2)
		}
		if g < count-1 {
			time.Sleep(pause)
		}
	}
	return nil
}

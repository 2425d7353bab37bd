// Package shutdown turns the interruption signals a supervisor receives
// into termination requests for the command it supervises.
//
// Usage:
//
//	fwd := shutdown.Forward(ch, logger)
//	defer fwd.Stop()
//	// SIGINT and SIGTERM now call ch.RequestTermination.
package shutdown

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/doughall/killable-sudo/internal/logging"
)

// Requester is the interface a signal target implements. RequestTermination
// must not block.
type Requester interface {
	RequestTermination() error
}

// DefaultSignals are forwarded when Forward is given none.
var DefaultSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// Forwarder relays signals to a Requester until stopped.
type Forwarder struct {
	sigs   chan os.Signal
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	logger *slog.Logger
}

// Forward starts relaying signals to target. While it runs, the signals no
// longer have their default effect on this process.
func Forward(target Requester, logger *slog.Logger, signals ...os.Signal) *Forwarder {
	if len(signals) == 0 {
		signals = DefaultSignals
	}

	f := &Forwarder{
		// signal.Notify drops signals when the channel is full.
		sigs:   make(chan os.Signal, 4),
		done:   make(chan struct{}),
		logger: logging.WithComponent(logger, "shutdown"),
	}
	signal.Notify(f.sigs, signals...)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for {
			select {
			case sig := <-f.sigs:
				f.logger.Debug("forwarding termination request", slog.String("signal", sig.String()))
				if err := target.RequestTermination(); err != nil {
					f.logger.Warn("termination request failed",
						slog.String("signal", sig.String()),
						slog.String("error", err.Error()),
					)
				}
			case <-f.done:
				return
			}
		}
	}()

	return f
}

// Stop restores default signal handling and waits for the relay to finish.
// It is safe to call more than once.
func (f *Forwarder) Stop() {
	f.once.Do(func() {
		signal.Stop(f.sigs)
		close(f.done)
		f.wg.Wait()
	})
}

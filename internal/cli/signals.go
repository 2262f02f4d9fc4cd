package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	cadreerrors "github.com/randalmurphal/cadre/internal/errors"
)

// signalState records the signal that cancelled the most recent run's
// context, so the command can report a RuntimeInterrupted error after its
// in-flight phase work has wound down, rather than exiting mid-write.
type signalState struct {
	mu   sync.Mutex
	name string
}

func (s *signalState) set(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

func (s *signalState) get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

var lastSignal signalState

// SetupSignalHandler returns a context cancelled on the first SIGINT/SIGTERM.
// A second signal forces immediate exit, since the checkpoint store already
// persists every phase/task transition as it happens: there is no separate
// in-memory state to flush before exiting.
func SetupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		lastSignal.set(sig.String())
		fmt.Fprintf(os.Stderr, "\nreceived %s, finishing in-flight work and exiting\n", sig)
		cancel()

		sig = <-sigChan
		fmt.Fprintf(os.Stderr, "\nreceived %s again, forcing exit\n", sig)
		os.Exit(130)
	}()

	return ctx, cancel
}

// InterruptedError returns a *cadreerrors.RuntimeInterrupted if the last
// SetupSignalHandler context was cancelled by a signal, or nil otherwise.
func InterruptedError() error {
	name := lastSignal.get()
	if name == "" {
		return nil
	}
	return &cadreerrors.RuntimeInterrupted{Signal: name, ExitCode: 130}
}

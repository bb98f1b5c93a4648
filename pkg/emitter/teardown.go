package emitter

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/log"
)

// TeardownHandler is anything with a last-chance flush. *Emitter is one.
type TeardownHandler interface {
	Teardown() bool
}

// NotifyTeardown runs h.Teardown when the process receives one of signals
// (SIGINT and SIGTERM when none are given). The returned channel yields the
// teardown result and is then closed. If ctx ends first the channel is
// closed without a value and the signal handler is removed.
func NotifyTeardown(
	ctx context.Context,
	h TeardownHandler,
	signals ...os.Signal,
) <-chan bool {
	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, signals...)

	result := make(chan bool, 1)

	go func() {
		defer close(result)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			log.Debugf("received %s; running teardown", sig)
			result <- h.Teardown()

		case <-ctx.Done():
		}
	}()

	return result
}

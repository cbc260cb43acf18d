// Package shutdown turns OS signals into context cancellation for long runs.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/samber/ro"
)

// Signals are the OS signals that stop a run.
var Signals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
}

// Observe emits the first of the given signals and completes. Subscribing
// starts signal delivery; unsubscribing or canceling the subscriber context
// stops it.
func Observe(signals ...os.Signal) ro.Observable[os.Signal] {
	return ro.NewObservableWithContext(func(ctx context.Context, observer ro.Observer[os.Signal]) ro.Teardown {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, signals...)

		done := make(chan struct{})
		go func() {
			select {
			case sig := <-ch:
				observer.NextWithContext(ctx, sig)
				observer.CompleteWithContext(ctx)
			case <-ctx.Done():
				observer.CompleteWithContext(ctx)
			case <-done:
			}
		}()

		var once sync.Once
		return func() {
			once.Do(func() {
				signal.Stop(ch)
				close(done)
			})
		}
	})
}

// NotifyContext returns a copy of parent that is canceled on the first of
// signals (Signals when none are given). onSignal, if set, runs before the
// cancellation. Call stop to release signal delivery.
func NotifyContext(
	parent context.Context,
	onSignal func(os.Signal),
	signals ...os.Signal,
) (ctx context.Context, stop context.CancelFunc) {
	if len(signals) == 0 {
		signals = Signals
	}
	ctx, cancel := context.WithCancel(parent)

	sub := Observe(signals...).SubscribeWithContext(ctx, ro.NewObserverWithContext(
		func(_ context.Context, sig os.Signal) {
			if onSignal != nil {
				onSignal(sig)
			}
			cancel()
		},
		func(context.Context, error) {},
		func(context.Context) {},
	))

	return ctx, func() {
		sub.Unsubscribe()
		cancel()
	}
}

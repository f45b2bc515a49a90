package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

type operation func(ctx context.Context) error

// gracefulShutdown waits for termination syscalls and doing clean up operations after received it.
func gracefulShutdown(ctx context.Context, timeout time.Duration, ops map[string]operation) <-chan struct{} {
	wait := make(chan struct{})
	go func() {
		s := make(chan os.Signal, 1)

		// add any other syscalls that you want to be notified with
		signal.Notify(s, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		<-s

		logrus.Info("shutting down")

		// set timeout for the ops to be done to prevent system hang
		timeoutFunc := time.AfterFunc(timeout, func() {
			logrus.WithField("timeout", timeout).Error("shutdown timed out, forcing exit")
			os.Exit(0)
		})

		defer timeoutFunc.Stop()

		runCleanups(ctx, ops)

		close(wait)
	}()

	return wait
}

// runCleanups runs every operation concurrently and returns the keys of the
// ones that failed.
func runCleanups(ctx context.Context, ops map[string]operation) []string {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []string
	)
	for key, op := range ops {
		wg.Go(func() {
			logger := logrus.WithField("operation", key)
			logger.Info("cleaning up")
			if err := op(ctx); err != nil {
				logger.WithError(err).Error("clean up failed")
				mu.Lock()
				failed = append(failed, key)
				mu.Unlock()
				return
			}
			logger.Info("shut down gracefully")
		})
	}
	wg.Wait()
	return failed
}

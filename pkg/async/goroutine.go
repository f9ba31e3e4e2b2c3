// Package async provides safe background execution for fire-and-forget
// tasks whose failures must stay observable: post-generation credit
// settlement, document archiving, feedback notification.
package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
)

// SafeGo executes fn in a goroutine with panic recovery, a timeout, and
// error logging. The task context carries the parent's values but not its
// cancellation: a client disconnect must not abort a billing settlement
// already in flight.
//
// The returned channel receives the task's terminal error (nil on success)
// exactly once, so callers and tests can observe completion.
//
// Example:
//
//	done := async.SafeGo(r.Context(), logger, 10*time.Second, "credit settlement", func(ctx context.Context) error {
//	    return ledger.Deduct(ctx, userID, cost, record)
//	})
func SafeGo(parentCtx context.Context, logger *logrus.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) <-chan error {
	done := make(chan error, 1)

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("panic in %s: %v", taskName, r)
				logger.WithField("task", taskName).
					WithField("stack", string(debug.Stack())).
					Error(err.Error())
				done <- err
			}
		}()

		err := fn(ctx)
		if err != nil {
			logger.WithError(err).WithField("task", taskName).Error("Background task failed")
		}
		done <- err
	}()

	return done
}

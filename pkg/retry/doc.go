// Package retry provides exponential backoff with optional jitter.
//
// Do runs an operation until it succeeds, the attempt budget is spent, the
// error is marked NonRetryable, or the context is cancelled:
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    t, err = transport.Open(ctx, cfg)
//	    return err
//	})
//
// Config.Delay exposes the deterministic schedule so callers that manage
// their own loop, such as the driver runner backing off between failed
// cycles, use the same timing.
package retry

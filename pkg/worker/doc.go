// Package worker provides a generic bounded worker pool.
//
// A Pool runs a fixed number of goroutines over a bounded queue. Submit
// never blocks: a full queue drops the item and reports ErrQueueFull, so a
// slow consumer applies backpressure to nobody but itself.
//
//	pool := worker.NewPool(4, 256, func(ctx context.Context, msg bus.Message) error {
//	    return sink.Send(ctx, msg)
//	}, worker.WithErrorHandler(func(msg bus.Message, err error) {
//	    logger.Warn("Forward failed", "error", err)
//	}))
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(5 * time.Second)
//
// Statistics are always tracked; Prometheus metrics are registered only when
// WithMetricsRegistry is given a registry.
package worker

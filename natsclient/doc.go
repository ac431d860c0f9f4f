// Package natsclient wraps the NATS Go client with circuit breaker
// protection, reconnection tracking and JetStream key-value access.
//
// The circuit opens after a threshold of consecutive failures (default 5)
// and half-opens after an exponential backoff capped at one minute. The
// lifecycle is Disconnected, Connecting, Connected, Reconnecting and back.
//
// # Basic Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	err = client.Publish(ctx, "devices.0a000005.6665.gps.0.data", payload)
//
//	kv, err := client.OpenKVStore(ctx, "device_last", 0)
//	err = kv.Put(ctx, "0a000005.6665.gps.0", payload)
//
// Handlers passed to Subscribe receive a per-message context with a
// 30-second timeout.
package natsclient

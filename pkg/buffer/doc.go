// Package buffer provides the bounded queues behind bus subscriptions.
//
// A subscriber that falls behind never stalls a driver: with DropOldest the
// ring discards its oldest entry to admit the new one and counts the drop.
// Waiters select on Notify and Done instead of blocking inside the buffer:
//
//	for {
//	    if v, ok := buf.Read(); ok {
//	        return v, nil
//	    }
//	    select {
//	    case <-ctx.Done():
//	        return zero, ctx.Err()
//	    case <-buf.Done():
//	        return zero, errClosed
//	    case <-buf.Notify():
//	    }
//	}
package buffer

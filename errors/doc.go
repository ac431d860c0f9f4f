// Package errors provides the device error taxonomy and classification used by
// transports, codecs, drivers and the data bus.
//
// # Classes
//
// Every error maps to one of three classes:
//
//   - Transient: read timeouts, short reads, protocol desync. The driver loop
//     counts these against its consecutive failure budget and backs off.
//   - Invalid: malformed frames, checksum mismatches, buffer overruns. These
//     never terminate a driver on their own; the frame is discarded and counted.
//   - Fatal: the transport could not be opened, an unsupported baud rate was
//     requested, or the driver gave up. The driver stops and its last reading
//     is marked stale.
//
// # Wrapping
//
// Wrap follows the "component.method: action failed: %w" pattern:
//
//	if _, err := t.Write(frame); err != nil {
//	    return errors.WrapTransient(err, "rfid", "requestLinkCode", "write request")
//	}
//
// Sentinels remain reachable through errors.Is on any wrapped chain, so
// callers can test for ErrTimeout or ErrChecksumMismatch directly.
package errors

// Package semdevices is a robot device server: it talks to serial, TCP and
// UDP attached sensors and actuators and publishes their readings on an
// in-process data bus.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│   cmd/semdevices                    │  Flags, config, signals
//	└─────────────────────────────────────┘
//	           ↓ starts
//	┌──────────────┐ ┌─────────┐ ┌────────┐
//	│   registry   │ │ gateway │ │ bridge │  Device table, HTTP API,
//	│   (Manager)  │ │ (HTTP)  │ │ (NATS, │  broker fan-out
//	└──────┬───────┘ └────┬────┘ │ Redis) │
//	       ↓ runs         │      └───┬────┘
//	┌──────────────┐      ↓ reads    ↓ reads
//	│ driver.Runner│ ──→ ┌─────────────────┐
//	│ per device   │     │       bus       │  Per-address pub/sub,
//	└──────┬───────┘ ←── │ data / commands │  retained readings
//	       ↓ frames      └─────────────────┘
//	┌──────────────┐
//	│ codec        │  STX/ETX/DLE, NMEA, Amtec, ClodBuster
//	└──────┬───────┘
//	       ↓ bytes
//	┌──────────────┐
//	│ transport    │  serial, TCP, UDP multicast
//	└──────────────┘
//
// # Devices
//
// Every device is addressed as host:robot:interface:index and bound to
// exactly one driver. The built-in drivers are:
//
//   - gps: NMEA 0183 receivers (GGA, RMC, GSA, PGRME)
//   - rfid: SICK RFI341 readers over STX/ETX/DLE framing
//   - lasertransform: crop, rescan, clamp, decimate and configuration-space
//     stages over another laser's scans
//   - ptz: Amtec PowerCube pan-tilt units
//   - motor: ClodBuster motor controllers
//
// A driver loop opens its transport, sets the device up, then alternates
// reading frames and applying commands. Failures are classified as
// transient (retry with backoff), invalid (drop the frame) or fatal (stop
// the device); the link state is published on the bus as a status message.
//
// # Configuration
//
// A device file in YAML or JSON lists devices with their transport and
// protocol options:
//
//	devices:
//	  - name: gps0
//	    driver: gps
//	    address: "10.0.0.5:6665:gps:0"
//	    transport: {kind: serial, path: /dev/ttyUSB0, baud: 4800}
//
// See package config for the complete schema.
package semdevices

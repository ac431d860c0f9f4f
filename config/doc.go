// Package config loads and validates the semdevices configuration.
//
// A configuration names the devices to run and the outer surfaces (metrics,
// HTTP gateway, NATS and Redis bridges) to start. Files are JSON, or YAML
// when the extension is .yaml or .yml. Layers merge key by key over the
// built-in defaults, then SEMDEVICES_* environment variables apply.
//
// # Basic Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.yaml")
//	loader.AddLayer("configs/robot1.yaml") // overrides base
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Devices
//
//	devices:
//	  - name: gps0
//	    driver: gps
//	    address: 10.0.0.5:6665:gps:0
//	    transport: {kind: serial, path: /dev/ttyS0, baud: 4800}
//	    protocol: {gain: 0.8, threshold: 1.0}
//	    options:
//	      max_consecutive_failures: 5
//	      warn_interval: 2s
//
// Transport is omitted for drivers fed from the data bus. The protocol
// section is passed to the driver factory unchanged; duration strings are
// accepted everywhere else.
//
// # Environment
//
// SEMDEVICES_NATS_URLS, SEMDEVICES_NATS_TOKEN, SEMDEVICES_REDIS_ADDR and
// SEMDEVICES_LOG_LEVEL override the merged file. A device transport is
// rebound per host with SEMDEVICES_DEVICE_<NAME>_PATH (absolute serial
// path) or SEMDEVICES_DEVICE_<NAME>_ADDRESS (host:port).
package config

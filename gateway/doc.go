// Package gateway exposes the device registry over HTTP.
//
// Routes:
//
//	GET  /devices                      every bound device with its link status
//	GET  /devices/{addr}               one device, its last reading and status
//	POST /devices/{addr}/commands      submit a command envelope
//	GET  /devices/{addr}/stream        websocket stream of data and status
//	GET  /health                       aggregated device health
//
// {addr} is the textual device address, host:robot:interface:index, for
// example 10.0.0.5:6665:gps:0.
//
// Command bodies use the same envelope as the broker ingress:
//
//	{"type": "ptz", "body": {"mode": "position", "pan": 900, "tilt": 0, "zoom": 0}}
//
// A successful submission answers 202 Accepted with the stamped command.
// Errors are JSON objects of the form {"error": "...", "status": 404}.
//
// Stream clients receive one JSON text frame per bus message; the retained
// status and reading are sent first. Slow clients lose the oldest frames.
package gateway

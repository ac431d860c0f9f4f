// Package driverregistry registers the built-in device drivers.
package driverregistry

import (
	"errors"

	"github.com/c360/semdevices/driver"
	"github.com/c360/semdevices/drivers/gps"
	"github.com/c360/semdevices/drivers/lasertransform"
	"github.com/c360/semdevices/drivers/motor"
	"github.com/c360/semdevices/drivers/ptz"
	"github.com/c360/semdevices/drivers/rfid"
	pkgerrors "github.com/c360/semdevices/errors"
)

// Register adds every built-in driver to the provided factories:
//
// Device drivers (own a transport):
//   - gps: NMEA receiver with fix filtering
//   - rfid: SICK RFI341 reader
//   - ptz: Amtec PowerCube pan-tilt head
//   - motor: ClodBuster differential drive with odometry
//
// Derived drivers (fed from the data bus):
//   - lasertransform: scan stage chain over another laser
func Register(factories *driver.Factories) error {
	// A nil set is a programming error, not bad input.
	if factories == nil {
		return pkgerrors.WrapFatal(
			errors.New("factories cannot be nil"),
			"DriverRegistry", "Register", "factories validation")
	}

	if err := gps.Register(factories); err != nil {
		return pkgerrors.WrapInvalid(err, "DriverRegistry", "Register", "GPS driver registration")
	}

	if err := rfid.Register(factories); err != nil {
		return pkgerrors.WrapInvalid(err, "DriverRegistry", "Register", "RFID driver registration")
	}

	if err := ptz.Register(factories); err != nil {
		return pkgerrors.WrapInvalid(err, "DriverRegistry", "Register", "PTZ driver registration")
	}

	if err := motor.Register(factories); err != nil {
		return pkgerrors.WrapInvalid(err, "DriverRegistry", "Register", "motor driver registration")
	}

	if err := lasertransform.Register(factories); err != nil {
		return pkgerrors.WrapInvalid(err, "DriverRegistry", "Register", "laser transform driver registration")
	}

	return nil
}

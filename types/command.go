package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/c360/semdevices/errors"
)

// CommandBody is the typed payload of a Command.
type CommandBody interface {
	CommandType() string
}

// Command is addressed to exactly one device.
type Command struct {
	ID        string      `json:"id"`
	Target    Address     `json:"target"`
	Body      CommandBody `json:"-"`
	Submitted time.Time   `json:"submitted"`
}

// NewCommand stamps a command with a fresh ID and submission time.
func NewCommand(target Address, body CommandBody) Command {
	return Command{
		ID:        uuid.NewString(),
		Target:    target,
		Body:      body,
		Submitted: time.Now(),
	}
}

// PTZMode selects position or velocity control.
type PTZMode string

// PTZ control modes.
const (
	PTZPosition PTZMode = "position"
	PTZVelocity PTZMode = "velocity"
)

// PTZCommand targets are tenths of a degree; in velocity mode PanSpeed and
// TiltSpeed are tenths of a degree per second.
type PTZCommand struct {
	Mode      PTZMode `json:"mode"`
	Pan       int32   `json:"pan"`
	Tilt      int32   `json:"tilt"`
	Zoom      int32   `json:"zoom"`
	PanSpeed  int32   `json:"pan_speed"`
	TiltSpeed int32   `json:"tilt_speed"`
}

func (PTZCommand) CommandType() string { return "ptz" }

// MotorCommand is a velocity request in metres and radians per second.
type MotorCommand struct {
	VelX   float64 `json:"vel_x"`
	VelY   float64 `json:"vel_y"`
	VelYaw float64 `json:"vel_yaw"`
}

func (MotorCommand) CommandType() string { return "motor" }

// PowerCommand switches a device's actuators or radio on or off.
type PowerCommand struct {
	On bool `json:"on"`
}

func (PowerCommand) CommandType() string { return "power" }

// CommandEnvelope is the wire form of a command body used by the HTTP
// gateway and the broker bridge.
type CommandEnvelope struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// DecodeCommandBody turns an envelope into a typed body.
func DecodeCommandBody(data []byte) (CommandBody, error) {
	var env CommandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.WrapInvalid(err, "Command", "DecodeCommandBody", "unmarshal envelope")
	}

	var body CommandBody
	switch env.Type {
	case "ptz":
		var c PTZCommand
		if err := unmarshalBody(env.Body, &c); err != nil {
			return nil, err
		}
		if c.Mode == "" {
			c.Mode = PTZPosition
		}
		if c.Mode != PTZPosition && c.Mode != PTZVelocity {
			return nil, errors.WrapInvalid(fmt.Errorf("unknown ptz mode %q", c.Mode),
				"Command", "DecodeCommandBody", "check ptz mode")
		}
		body = c
	case "motor":
		var c MotorCommand
		if err := unmarshalBody(env.Body, &c); err != nil {
			return nil, err
		}
		body = c
	case "power":
		var c PowerCommand
		if err := unmarshalBody(env.Body, &c); err != nil {
			return nil, err
		}
		body = c
	default:
		return nil, errors.WrapInvalid(fmt.Errorf("unknown command type %q", env.Type),
			"Command", "DecodeCommandBody", "dispatch type")
	}
	return body, nil
}

// EncodeCommandBody is the inverse of DecodeCommandBody.
func EncodeCommandBody(body CommandBody) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Command", "EncodeCommandBody", "marshal body")
	}
	return json.Marshal(CommandEnvelope{Type: body.CommandType(), Body: raw})
}

func unmarshalBody(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.WrapInvalid(err, "Command", "DecodeCommandBody", "unmarshal body")
	}
	return nil
}

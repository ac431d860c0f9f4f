package bridge

import (
	"context"
	"fmt"

	"github.com/c360/semdevices/bus"
	"github.com/c360/semdevices/types"
)

// Sink delivers one bus message to an external system. data is the JSON
// encoding of msg, shared by all sinks.
type Sink interface {
	Name() string
	Send(ctx context.Context, msg bus.Message, data []byte) error
}

// Subject builds the broker subject for msg under prefix.
func Subject(prefix string, msg bus.Message) string {
	return fmt.Sprintf("%s.%s.%s", prefix, msg.Address.Subject(), msg.Kind)
}

// CommandSubject is the subject a device receives remote commands on.
func CommandSubject(prefix string, addr types.Address) string {
	return fmt.Sprintf("%s.%s.command", prefix, addr.Subject())
}

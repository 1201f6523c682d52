// Package command defines the logical projector commands and their wire strings.
package command

import (
	"errors"
	"fmt"
)

// ErrUnknown is returned by Parse for strings that are not a wire encoding.
var ErrUnknown = errors.New("command: unknown wire string")

// Command is a logical device instruction, independent of its encoding.
type Command uint8

const (
	TurnOn Command = iota + 1
	TurnOff
)

var wire = map[Command]string{
	TurnOn:  "ON",
	TurnOff: "OFF",
}

// All returns every defined command in declaration order.
func All() []Command {
	return []Command{TurnOn, TurnOff}
}

// Encode returns the wire string sent to the device and to the ack topic.
// An undefined value encodes as "".
func Encode(c Command) string {
	return wire[c]
}

// Parse is the inverse of Encode.
func Parse(s string) (Command, error) {
	for c, w := range wire {
		if w == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknown, s)
}

// Valid reports whether c is one of the defined commands.
func (c Command) Valid() bool {
	_, ok := wire[c]
	return ok
}

func (c Command) String() string {
	if w, ok := wire[c]; ok {
		return w
	}
	return fmt.Sprintf("Command(%d)", uint8(c))
}

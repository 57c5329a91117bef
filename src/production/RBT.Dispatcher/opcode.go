package dispatcher

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownOpcode is returned for a command name outside the robot vocabulary
var ErrUnknownOpcode = errors.New("unknown command")

// Opcode is the single byte a robot controller acts on
type Opcode byte

const (
	OpStart        Opcode = 0x02
	OpStop         Opcode = 0x03
	OpReturnToBase Opcode = 0x04
	OpReboot       Opcode = 0x05
	OpDisable      Opcode = 0x06
	OpEnable       Opcode = 0x07
)

var opcodeNames = map[Opcode]string{
	OpStart:        "start",
	OpStop:         "stop",
	OpReturnToBase: "return-to-base",
	OpReboot:       "reboot",
	OpDisable:      "disable",
	OpEnable:       "enable",
}

// ParseCommand maps a command name to its opcode
func ParseCommand(name string) (Opcode, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for op, opName := range opcodeNames {
		if opName == name {
			return op, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOpcode, name)
}

// Commands lists the accepted command names
func Commands() []string {
	return []string{"start", "stop", "return-to-base", "reboot", "enable", "disable"}
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("opcode(0x%02x)", byte(o))
}

// Payload is the downlink frame for the opcode
func (o Opcode) Payload() []byte {
	return []byte{byte(o)}
}

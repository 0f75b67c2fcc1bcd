// Package mgmt implements the management server: a loopback TCP service
// that answers one line-based request per connection with input statistics,
// input health, or the shared configuration document.
//
// Protocol: the server sends a greeting line, the client sends one command
// line, the server answers (or not, for setptree) and closes the connection.
package mgmt

import (
	"encoding/json"
	"fmt"

	"github.com/randomizedcoder/go-mux-mgmt/internal/stats"
)

// Command is a parsed management command.
type Command int

const (
	CmdInvalid Command = iota
	CmdConfig
	CmdValues
	CmdState
	CmdSetPtree
	CmdGetPtree
)

// Command strings as sent by clients
const (
	cmdConfigStr   = "config"
	cmdValuesStr   = "values"
	cmdStateStr    = "state"
	cmdSetPtreeStr = "setptree"
	cmdGetPtreeStr = "getptree"
	cmdInvalidStr  = "invalid"
)

// InvalidCommandResponse is sent for any unrecognised command.
const InvalidCommandResponse = "Invalid command\n"

// MaxLineLength caps a single protocol line, including a full document.
const MaxLineLength = 1 << 20

// String returns the protocol string of the command.
func (c Command) String() string {
	switch c {
	case CmdConfig:
		return cmdConfigStr
	case CmdValues:
		return cmdValuesStr
	case CmdState:
		return cmdStateStr
	case CmdSetPtree:
		return cmdSetPtreeStr
	case CmdGetPtree:
		return cmdGetPtreeStr
	default:
		return cmdInvalidStr
	}
}

// ParseCommand maps a command line (without its newline) to a Command.
// Matching is exact; anything else is CmdInvalid.
func ParseCommand(line string) Command {
	switch line {
	case cmdConfigStr:
		return CmdConfig
	case cmdValuesStr:
		return CmdValues
	case cmdStateStr:
		return CmdState
	case cmdSetPtreeStr:
		return CmdSetPtree
	case cmdGetPtreeStr:
		return CmdGetPtree
	default:
		return CmdInvalid
	}
}

// Greeting is the first line sent on every connection.
type Greeting struct {
	Service string `json:"service"`
}

// greetingLine renders the greeting with the exact spacing existing
// monitoring tools expect.
func greetingLine(service string) []byte {
	quoted, _ := json.Marshal(service)
	return []byte(`{"service": ` + string(quoted) + "}\n")
}

// ConfigResponse answers the config command.
type ConfigResponse struct {
	Config []string `json:"config"`
}

// ValuesResponse answers the values command.
type ValuesResponse struct {
	Values map[string]stats.ValuesReport `json:"values"`
}

// StateResponse answers the state command. It has no wrapper object.
type StateResponse map[string]stats.StateReport

// ServiceString builds the greeting service field.
func ServiceString(name, version string) string {
	return fmt.Sprintf("%s %s MGMT Server", name, version)
}

// encodeLine encodes v as one JSON line.
func encodeLine(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return append(data, '\n'), nil
}

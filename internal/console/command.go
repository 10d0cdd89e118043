// Package console implements the operator command line of the server:
// a validated parser for operator lines and a REPL driving an adapter.
package console

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

var (
	// ErrUnknownCommand is returned for a line whose first word is not a command.
	ErrUnknownCommand = errors.New("invalid user command")

	// ErrInvalidArguments is returned when a known command has malformed arguments.
	ErrInvalidArguments = errors.New("invalid arguments")
)

// Command is one parsed operator line.
type Command interface {
	Name() string
}

// BindCommand binds the server socket to Address:Port.
type BindCommand struct {
	Address string `mapstructure:"address" validate:"required,ip"`
	Port    int    `mapstructure:"port" validate:"min=1,max=65535"`
}

// StartCommand starts serving with a pool of Workers.
type StartCommand struct {
	Workers int `mapstructure:"workers" validate:"min=1,max=16"`
}

// StopCommand gracefully stops the server.
type StopCommand struct{}

// StatusCommand prints server load.
type StatusCommand struct{}

// HelpCommand prints the menu.
type HelpCommand struct{}

// QuitCommand stops the server if running and leaves the console.
type QuitCommand struct{}

func (BindCommand) Name() string   { return "bind" }
func (StartCommand) Name() string  { return "start" }
func (StopCommand) Name() string   { return "stop" }
func (StatusCommand) Name() string { return "status" }
func (HelpCommand) Name() string   { return "help" }
func (QuitCommand) Name() string   { return "quit" }

var validate = validator.New()

// Parse turns one operator line into a Command. Command words are case
// insensitive; surrounding whitespace is ignored.
func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty line", ErrUnknownCommand)
	}

	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "bind":
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: usage: bind <ip>:<port>", ErrInvalidArguments)
		}
		host, port, err := net.SplitHostPort(args[0])
		if err != nil {
			return nil, fmt.Errorf("%w: port should be separated by \":\" from IP: <ip>:<port>", ErrInvalidArguments)
		}
		var cmd BindCommand
		if err := decode(map[string]any{"address": host, "port": port}, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil

	case "start":
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: usage: start <workers>", ErrInvalidArguments)
		}
		var cmd StartCommand
		if err := decode(map[string]any{"workers": args[0]}, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil

	case "stop", "status", "help", "quit", "exit":
		if len(args) != 0 {
			return nil, fmt.Errorf("%w: %s takes no arguments", ErrInvalidArguments, name)
		}
		switch name {
		case "stop":
			return StopCommand{}, nil
		case "status":
			return StatusCommand{}, nil
		case "help":
			return HelpCommand{}, nil
		default:
			return QuitCommand{}, nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, fields[0])
}

// decode fills cmd from raw string arguments and validates the result.
func decode(raw map[string]any, cmd any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cmd,
	})
	if err != nil {
		return err
	}

	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidArguments, describeDecodeError(err))
	}

	if err := validate.Struct(cmd); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidArguments, describeValidationError(err))
	}
	return nil
}

func describeDecodeError(err error) string {
	var mErr *mapstructure.Error
	if errors.As(err, &mErr) && len(mErr.Errors) > 0 {
		return mErr.Errors[0]
	}
	return err.Error()
}

func describeValidationError(err error) string {
	var vErrs validator.ValidationErrors
	if !errors.As(err, &vErrs) || len(vErrs) == 0 {
		return err.Error()
	}

	e := vErrs[0]
	field := strings.ToLower(e.Field())
	switch e.Tag() {
	case "ip", "required":
		return fmt.Sprintf("%s %v is not a literal IPv4 or IPv6 address", field, e.Value())
	case "min", "max":
		switch field {
		case "workers":
			return fmt.Sprintf("number of clients should be between 1 and 16, got %v", e.Value())
		case "port":
			return fmt.Sprintf("port should be between 1 and 65535, got %v", e.Value())
		}
	}
	return fmt.Sprintf("%s failed %q check (value: %v)", field, e.Tag(), e.Value())
}

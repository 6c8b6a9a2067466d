// Package orchestrator implements the wire format and unix-socket transport used by
// the orchestrator exit handler (hypercall 1000).
//
// An external orchestrator binds a unix socket, delivers a hypercall whose payload
// names that socket, and waits. When the exit is dispatched the simulator dials the
// socket, writes exactly one JSON object and closes the connection.
package orchestrator

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// HypercallID is the handler id reserved for orchestrator requests.
const HypercallID = 1000

// DefaultTimeout bounds one dial/write (responder) or accept/read (requester) exchange.
const DefaultTimeout = 5 * time.Second

// Payload keys carried by an orchestrator hypercall.
const (
	KeyFunction       = "function"
	KeyArguments      = "arguments"
	KeyResponseSocket = "response_socket"
)

// Supported request functions.
const (
	FunctionStatus           = "status"
	FunctionGetStats         = "get_stats"
	FunctionUpdateDebugFlags = "update_debug_flags"
)

// ValidFunctions is the set of recognized request functions.
var ValidFunctions = map[string]bool{
	FunctionStatus:           true,
	FunctionGetStats:         true,
	FunctionUpdateDebugFlags: true,
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Request is what an orchestrator asks of a running simulation.
type Request struct {
	Function       string `json:"function"`
	Arguments      string `json:"arguments,omitempty"`
	ResponseSocket string `json:"response_socket"`
}

// Payload flattens the request into the string map carried by the hypercall.
func (r Request) Payload() map[string]string {
	p := map[string]string{
		KeyFunction:       r.Function,
		KeyResponseSocket: r.ResponseSocket,
	}
	if r.Arguments != "" {
		p[KeyArguments] = r.Arguments
	}
	return p
}

// Status is the response to a "status" request.
// SimID is null when the simulation has no id.
type Status struct {
	Workload             string  `json:"workload"`
	Tick                 uint64  `json:"tick"`
	SimID                *string `json:"sim_id"`
	InstructionsExecuted uint64  `json:"curr_instructions_executed"`
}

// DebugFlagsResult is the response to an "update_debug_flags" request.
type DebugFlagsResult struct {
	Enabled  []string `json:"flags_enabled"`
	Disabled []string `json:"flags_disabled"`
	Invalid  []string `json:"invalid_flags"`
}

// ErrorResponse reports a request that could not be served.
type ErrorResponse struct {
	Error string `json:"error"`
}

// FlagToggle is one entry of an update_debug_flags argument list.
type FlagToggle struct {
	Name   string
	Enable bool
}

// ParseDebugFlags splits a comma-separated flag list. A leading "-" disables the flag.
// Empty entries are dropped.
func ParseDebugFlags(arguments string) []FlagToggle {
	var toggles []FlagToggle
	for _, raw := range strings.Split(arguments, ",") {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		enable := true
		if strings.HasPrefix(name, "-") {
			name = name[1:]
			enable = false
		}
		toggles = append(toggles, FlagToggle{Name: name, Enable: enable})
	}
	return toggles
}

// Respond dials the unix socket at path, writes v as a single JSON object and closes
// the connection. Both the dial and the write are bounded by timeout.
func Respond(path string, v any, timeout time.Duration) error {
	if path == "" {
		return errors.New("empty response socket path")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding orchestrator response: %w", err)
	}
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return fmt.Errorf("dialing response socket %s: %w", path, err)
	}
	defer conn.Close()
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if _, err := conn.Write(body); err != nil {
		return fmt.Errorf("writing orchestrator response: %w", err)
	}
	return nil
}

// Listener is the requester side: it owns the socket a response is written to.
type Listener struct {
	ln   *net.UnixListener
	path string
}

// Listen binds a unix socket at path, removing a stale socket file first.
func Listen(path string) (*Listener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("removing stale socket %s: %w", path, err)
	}
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}
	return &Listener{ln: ln, path: path}, nil
}

// Path returns the socket path to put in the request payload.
func (l *Listener) Path() string {
	return l.path
}

// Await accepts one connection and reads until the peer closes it.
// It fails if no complete response arrives within timeout.
func (l *Listener) Await(timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	if err := l.ln.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("setting accept deadline: %w", err)
	}
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("waiting for response: %w", err)
	}
	defer conn.Close()
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("setting read deadline: %w", err)
	}
	body, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return body, nil
}

// Close stops listening and removes the socket file.
func (l *Listener) Close() error {
	err := l.ln.Close()
	if rmErr := os.Remove(l.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		err = errors.Join(err, rmErr)
	}
	return err
}

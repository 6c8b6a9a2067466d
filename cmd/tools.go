package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/simloop/simloop/sim"
	"github.com/simloop/simloop/sim/orchestrator"
	"github.com/simloop/simloop/sim/signal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// CLI flags for the request command
	requestSocket    string        // Unix socket the response is written to
	requestFunction  string        // Orchestrator function
	requestArguments string        // Function arguments
	requestTimeout   time.Duration // How long to wait for the response
)

// handlersCmd lists the built-in exit handlers
var handlersCmd = &cobra.Command{
	Use:   "handlers",
	Short: "List the registered exit handlers",
	Run: func(cmd *cobra.Command, args []string) {
		printHandlers(os.Stdout, sim.NewDefaultRegistry())
	},
}

// signalCmd encodes a hypercall message for delivery to a running simulation
var signalCmd = &cobra.Command{
	Use:   "signal <id> <payload-json>",
	Short: "Encode a hypercall signal message",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		msg, err := encodeSignal(args)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		fmt.Println(string(msg))
	},
}

// requestCmd asks a running simulation for information through the orchestrator handler
var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Send an orchestrator request and wait for the response",
	Run: func(cmd *cobra.Command, args []string) {
		if !orchestrator.ValidFunctions[requestFunction] {
			logrus.Warnf("Function %q is not known to the simulator; it will answer with an error", requestFunction)
		}
		req := orchestrator.Request{Function: requestFunction, Arguments: requestArguments}
		if err := runRequest(os.Stdout, os.Stderr, req, requestSocket, requestTimeout); err != nil {
			logrus.Fatalf("%v", err)
		}
	},
}

// runRequest prints the signal for req, then waits for the response on socket, or on a
// temporary socket when socket is empty. The socket and temporary directory are removed
// before it returns.
func runRequest(out, prompt io.Writer, req orchestrator.Request, socket string, timeout time.Duration) error {
	if socket == "" {
		dir, err := os.MkdirTemp("", "simloop")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		socket = filepath.Join(dir, "response.sock")
	}
	l, err := orchestrator.Listen(socket)
	if err != nil {
		return err
	}
	defer l.Close()

	req.ResponseSocket = l.Path()
	msg, err := requestSignal(req)
	if err != nil {
		return err
	}
	fmt.Fprintln(prompt, "Deliver this signal to the simulation:")
	fmt.Fprintln(out, string(msg))

	body, err := l.Await(timeout)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(body))
	return nil
}

func printHandlers(w io.Writer, r *sim.Registry) {
	for _, id := range r.IDs() {
		ctor, _ := r.Resolve(id)
		fmt.Fprintf(w, "%-6d %s\n", id, ctor(nil).Description())
	}
}

// encodeSignal builds a message from an id and an optional JSON object payload.
func encodeSignal(args []string) ([]byte, error) {
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid handler id %q: %w", args[0], err)
	}
	payload := []byte("{}")
	if len(args) > 1 {
		payload = []byte(args[1])
	}
	return signal.Encode(uint32(id), payload)
}

// requestSignal encodes an orchestrator request as a hypercall message.
func requestSignal(req orchestrator.Request) ([]byte, error) {
	payload, err := json.Marshal(req.Payload())
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	return signal.Encode(orchestrator.HypercallID, payload)
}

func init() {
	requestCmd.Flags().StringVar(&requestSocket, "socket", "", "Unix socket for the response (default: a temporary path)")
	requestCmd.Flags().StringVar(&requestFunction, "function", orchestrator.FunctionStatus, "Function (status, get_stats, update_debug_flags)")
	requestCmd.Flags().StringVar(&requestArguments, "arguments", "", "Function arguments, e.g. Exec,-Cache")
	requestCmd.Flags().DurationVar(&requestTimeout, "timeout", time.Minute, "How long to wait for the response")
}

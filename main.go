// simloop drives a simulation from exit event to exit event.
// All command handling lives in cmd/.
package main

import "github.com/simloop/simloop/cmd"

func main() {
	cmd.Execute()
}

// Command broker runs the GCP Token Broker gRPC service.
package main

import (
	"fmt"
	"os"

	"github.com/gcp-broker/tokenbroker/cmd/broker/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

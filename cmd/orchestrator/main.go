// Command orchestrator runs the CasareRPA control plane: the robot
// websocket server, webhook/schedule job materialization, the
// dispatch loop, and the operator Admin API, all in one process
// (spec.md's orchestrator is a single deployable, unlike the teacher's
// split cluster-gateway/cluster-agent/openchoreo-api binaries).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "CasareRPA orchestrator control plane",
}

func main() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newJobCmd())
	rootCmd.AddCommand(newScheduleCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// version is set at build time via -ldflags, matching the teacher's
// cmd/occ version command default of "dev" when unset.
var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the orchestrator version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

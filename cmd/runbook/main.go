// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tombee/runbook/internal/client"
	"github.com/tombee/runbook/internal/config"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// serverURL is the --server flag, falling back to RUNBOOK_URL / default.
var serverURL string

// jsonOutput is the global --json flag.
var jsonOutput bool

// addWatchFlag registers the --watch flag shared by the commands that
// can stream a run to completion.
func addWatchFlag(fs *pflag.FlagSet, watch *bool) {
	fs.BoolVar(watch, "watch", false, "Stream trace events until the run finishes")
}

func newClient() *client.Client {
	url := serverURL
	if url == "" {
		url = config.ServerURL()
	}
	return client.New(url)
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "runbook",
		Short: "Runbook - typed workflow orchestration",
		Long: `Runbook is the command-line client for a runbook server. It submits
workflow runs, streams their trace events, answers checkpoints, and
browses past runs.

Start a server with 'runbookd' and point this client at it with
--server or the RUNBOOK_URL environment variable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Server URL (default: RUNBOOK_URL or "+config.DefaultServerURL+")")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newWorkflowsCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newTraceCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newCancelCommand())
	rootCmd.AddCommand(newResolveCommand())
	rootCmd.AddCommand(newResumeCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newPingCommand())
	rootCmd.AddCommand(newVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("runbook %s (commit: %s, built: %s)\n", version, commit, buildDate)
			return nil
		},
	}
}

func newPingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check server connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().Health(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

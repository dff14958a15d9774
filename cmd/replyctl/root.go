// Copyright (c) 2026 John Earle
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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/awesbecher/poweredbyapp-sub000/internal/app"
	"github.com/awesbecher/poweredbyapp-sub000/internal/config"
	"github.com/awesbecher/poweredbyapp-sub000/internal/logging"
)

var (
	logLevel   string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "replyctl",
	Short: "Operate the mail agent: review replies, poll inboxes, index knowledge",
	Long: `replyctl talks to the same PostgreSQL and Redis as the mail agent service.

Review commands (pending, approve, reject, send, rate, regenerate) act on
stored messages. Pipeline commands (poll-once, generate) run the pipeline
in this process, or publish jobs for the service workers with --queue.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(os.Stderr, logLevel)
	},
}

// Execute runs the root command.
func Execute() {
	rootCmd.Version = app.Version
	rootCmd.SetVersionTemplate(`{{printf "replyctl version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")

	rootCmd.AddCommand(newPendingCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newApproveCmd())
	rootCmd.AddCommand(newRejectCmd())
	rootCmd.AddCommand(newSendCmd())
	rootCmd.AddCommand(newRateCmd())
	rootCmd.AddCommand(newRegenerateCmd())
	rootCmd.AddCommand(newPollOnceCmd())
	rootCmd.AddCommand(newGenerateCmd())
	rootCmd.AddCommand(newErrorsCmd())
	rootCmd.AddCommand(newIndexCmd())
}

// withApp loads configuration, builds the component graph and runs fn with a
// context cancelled on SIGINT/SIGTERM.
func withApp(inline bool, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{Inline: inline})
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

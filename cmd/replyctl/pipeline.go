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
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/awesbecher/poweredbyapp-sub000/internal/app"
)

func newPollOnceCmd() *cobra.Command {
	var queued bool

	cmd := &cobra.Command{
		Use:   "poll-once",
		Short: "Run one polling cycle over every connected agent",
		Long: `Fetch unread mail for every agent with credentials and store new messages.
Replies are generated in this process unless --queue is set, in which case
generation jobs are published for the service workers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(!queued, func(ctx context.Context, a *app.App) error {
				res, err := a.Poller.PollAll(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), res)
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "AGENT\tLISTED\tNEW\tSKIPPED\tERRORS")
				for _, r := range res.Agents {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", r.AgentID, r.Listed, r.New, r.Skipped, r.Errors)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d new, %d skipped, %d errors in %s\n",
					res.TotalNew, res.TotalSkipped, res.TotalErrors, res.Elapsed.Round(time.Millisecond))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&queued, "queue", false, "Publish generation jobs instead of running them here")
	return cmd
}

func newGenerateCmd() *cobra.Command {
	var queued bool

	cmd := &cobra.Command{
		Use:   "generate <message-id>",
		Short: "Classify and compose a reply for a received message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(!queued, func(ctx context.Context, a *app.App) error {
				msg, err := a.Store.GetMessage(ctx, args[0])
				if err != nil {
					return err
				}
				if queued {
					if err := a.Publisher.TriggerGenerate(ctx, msg.AgentID, msg.ID); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s queued\n", msg.ID)
					return nil
				}

				if err := a.Generator.Generate(ctx, msg.AgentID, msg.ID); err != nil {
					return err
				}
				after, err := a.Store.GetMessage(ctx, msg.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", after.ID, after.Status)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&queued, "queue", false, "Publish a generation job instead of running it here")
	return cmd
}

func newErrorsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Show the most recent component failures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(true, func(ctx context.Context, a *app.App) error {
				recs, err := a.Store.RecentErrors(ctx, limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), recs)
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIME\tFUNCTION\tAGENT\tMESSAGE")
				for _, r := range recs {
					agent := "-"
					if r.AgentID != nil {
						agent = *r.AgentID
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
						r.CreatedAt.Format("2006-01-02 15:04:05"), r.Function, agent, truncate(r.Message, 80))
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of records")
	return cmd
}

func newIndexCmd() *cobra.Command {
	var agentID, document string

	cmd := &cobra.Command{
		Use:   "index <file>",
		Short: "Add a document to an agent's knowledge base",
		Long: `Split the file into chunks, embed each chunk and store it for similarity
search. Re-indexing the same document name overwrites its chunks.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			if document == "" {
				if args[0] == "-" {
					return fmt.Errorf("--name is required when reading from stdin")
				}
				document = filepath.Base(args[0])
			}
			return withApp(true, func(ctx context.Context, a *app.App) error {
				if _, err := a.Store.GetAgent(ctx, agentID); err != nil {
					return fmt.Errorf("agent %s: %w", agentID, err)
				}
				n, err := a.Indexer.IndexDocument(ctx, agentID, document, string(text))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "indexed %s for %s: %d chunks\n", document, agentID, n)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&agentID, "agent", "", "Agent that owns the document")
	cmd.Flags().StringVar(&document, "name", "", "Document name (defaults to the file name)")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

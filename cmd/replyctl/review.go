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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/awesbecher/poweredbyapp-sub000/internal/api"
	"github.com/awesbecher/poweredbyapp-sub000/internal/app"
	"github.com/awesbecher/poweredbyapp-sub000/internal/models"
)

func newPendingCmd() *cobra.Command {
	var agentID string
	var limit int

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List replies awaiting approval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(true, func(ctx context.Context, a *app.App) error {
				msgs, err := a.Review.Pending(ctx, agentID, limit)
				if err != nil {
					return err
				}
				return printMessages(cmd.OutOrStdout(), msgs)
			})
		},
	}

	cmd.Flags().StringVar(&agentID, "agent", "", "Only show messages for this agent")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of messages")
	return cmd
}

func newListCmd() *cobra.Command {
	var agentID, status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List messages in a given status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(true, func(ctx context.Context, a *app.App) error {
				msgs, err := a.Review.List(ctx, agentID, models.Status(status), limit)
				if err != nil {
					return err
				}
				return printMessages(cmd.OutOrStdout(), msgs)
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", string(models.StatusAwaitingApproval), "Message status")
	cmd.Flags().StringVar(&agentID, "agent", "", "Only show messages for this agent")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of messages")
	return cmd
}

func newApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <message-id>",
		Short: "Send the stored reply unchanged",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(true, func(ctx context.Context, a *app.App) error {
				if err := a.Review.Approve(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s approved and sent\n", args[0])
				return nil
			})
		},
	}
}

func newRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <message-id>",
		Short: "Discard the reply without sending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(true, func(ctx context.Context, a *app.App) error {
				if err := a.Review.Reject(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s rejected\n", args[0])
				return nil
			})
		},
	}
}

func newSendCmd() *cobra.Command {
	var text, file string

	cmd := &cobra.Command{
		Use:   "send <message-id>",
		Short: "Send an edited reply",
		Long: `Send the given text instead of the stored reply. The text is read from
--text, or from --file ("-" for stdin).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				b, err := readInput(cmd.InOrStdin(), file)
				if err != nil {
					return err
				}
				text = string(b)
			}
			return withApp(true, func(ctx context.Context, a *app.App) error {
				if err := a.Review.EditAndSend(ctx, args[0], text); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s sent\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Reply text")
	cmd.Flags().StringVar(&file, "file", "", "Read reply text from a file")
	cmd.MarkFlagsMutuallyExclusive("text", "file")
	cmd.MarkFlagsOneRequired("text", "file")
	return cmd
}

func newRateCmd() *cobra.Command {
	var feedback string

	cmd := &cobra.Command{
		Use:   "rate <message-id> <1-5>",
		Short: "Rate a sent reply",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rating, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("rating must be a number: %w", err)
			}
			var fb *string
			if feedback != "" {
				fb = &feedback
			}
			return withApp(true, func(ctx context.Context, a *app.App) error {
				if err := a.Review.Rate(ctx, args[0], rating, fb); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s rated %d\n", args[0], rating)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&feedback, "feedback", "", "Optional feedback")
	return cmd
}

func newRegenerateCmd() *cobra.Command {
	var queued bool

	cmd := &cobra.Command{
		Use:   "regenerate <message-id>",
		Short: "Compose a new reply for a message that was not sent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(!queued, func(ctx context.Context, a *app.App) error {
				if err := a.Review.Regenerate(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s regenerated\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&queued, "queue", false, "Publish a job for the service workers instead")
	return cmd
}

func printMessages(w io.Writer, msgs []models.InboundMessage) error {
	if jsonOutput {
		views := make([]api.MessageView, 0, len(msgs))
		for _, m := range msgs {
			views = append(views, api.ViewOf(m))
		}
		return printJSON(w, views)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAGENT\tSTATUS\tINTENT\tSENDER\tSUBJECT\tRECEIVED")
	for _, m := range msgs {
		intent := "-"
		if m.Analysis != nil {
			intent = string(m.Analysis.Intent)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			m.ID, m.AgentID, m.Status, intent, m.Sender, truncate(m.Subject, 50),
			m.ReceivedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return b, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

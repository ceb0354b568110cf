package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/store"
)

func newMessageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Messaging commands",
	}

	cmd.AddCommand(newMessageSendCmd())
	cmd.AddCommand(newMessageListCmd())
	cmd.AddCommand(newMessageReadCmd())
	return cmd
}

// openStore connects to the configured store without a hub; CLI writes
// surface on running dashboards when those next poll.
func openStore(configPath string) (*config.Config, *store.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	g, err := db.Connect(cfg.Store.Path)
	if err != nil {
		return nil, nil, err
	}
	return cfg, store.New(g, nil), nil
}

func newMessageSendCmd() *cobra.Command {
	var (
		configPath string
		to         string
		body       string
		replyTo    string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message as the operator",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore(configPath)
			if err != nil {
				return err
			}

			msg := models.Message{FromAgent: "user", ToAgent: to, Body: body}
			if replyTo != "" {
				parent, err := st.Get(replyTo)
				if err != nil {
					return err
				}
				msg.ThreadID = parent.ThreadID
			}
			if err := st.Insert(&msg); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Sent %s to %s (thread %s)\n", msg.ID, to, msg.ThreadID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().StringVar(&to, "to", "", "recipient agent (required)")
	cmd.Flags().StringVar(&body, "body", "", "message body (required)")
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "message ID to reply to")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagRequired("body")
	return cmd
}

func newMessageListCmd() *cobra.Command {
	var (
		configPath string
		agent      string
		thread     string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List messages, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore(configPath)
			if err != nil {
				return err
			}

			page, err := st.Query(store.Filters{Agent: agent, Thread: thread, Limit: limit})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(page.Messages) == 0 {
				fmt.Fprintln(out, "No messages")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFROM\tTO\tKIND\tBODY\tCREATED")
			for _, m := range page.Messages {
				body := m.Body
				if len(body) > 60 {
					body = body[:57] + "..."
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					m.ID[:8], m.FromAgent, m.ToAgent, m.Kind, body,
					m.CreatedAt.Format("2006-01-02 15:04"))
			}
			w.Flush()
			if page.HasMore {
				fmt.Fprintf(out, "... more (next cursor: %s)\n", page.Next.Encode())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().StringVar(&agent, "agent", "", "filter to one agent's messages")
	cmd.Flags().StringVar(&thread, "thread", "", "filter to one thread")
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	return cmd
}

func newMessageReadCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "read <message-id>",
		Short: "Mark a message as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore(configPath)
			if err != nil {
				return err
			}
			if err := st.MarkRead(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Marked %s read\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}

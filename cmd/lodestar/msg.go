package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lodestar-dev/lodestar/internal/config"
	"github.com/lodestar-dev/lodestar/internal/engine"
	"github.com/lodestar-dev/lodestar/internal/protocol"
	"github.com/lodestar-dev/lodestar/internal/storage"
	"github.com/lodestar-dev/lodestar/internal/ui"
)

var msgCmd = &cobra.Command{
	Use:   "msg",
	Short: "Exchange messages between agents",
}

var msgSendCmd = &cobra.Command{
	Use:   "send <recipient> <body>",
	Short: "Send a message to an agent or a task thread",
	Long: `Send a message. The recipient is an agent id, or task:<id> to post on
a task's thread. Task threads accept any id: context can land on work
that is not in the spec yet and it survives the task's deletion.

Everything after the recipient is the body, so quoting is optional.`,
	Args: introspectArgs(cobra.MinimumNArgs(2)),
	Run: func(cmd *cobra.Command, args []string) {
		subject, _ := cmd.Flags().GetString("subject")
		severity, _ := cmd.Flags().GetString("severity")
		taskRef, _ := cmd.Flags().GetString("task")

		toType, toID := parseRecipient(argAt(args, 0))
		run(cmd, protocol.OpMessageSend, map[string]any{
			"to_type":  toType,
			"to_id":    toID,
			"subject":  subject,
			"severity": severity,
			"task_id":  taskRef,
			"body":     strings.Join(args[1:], " "),
		}, func(env *protocol.Envelope) {
			res, ok := env.Data.(*engine.SendResult)
			if !ok {
				printJSON(env)
				return
			}
			m := res.Message
			fmt.Printf("%s message %d sent to %s %s\n", ui.RenderPass("✓"),
				m.MessageID, m.ToType, ui.RenderAccent(m.ToID))
		})
	},
}

var msgInboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Read your inbox, newest first",
	Long: `List messages addressed to this agent. --mark-read stamps everything
the page returns in the same transaction, so a crash cannot deliver a
page without recording the reads.`,
	Run: func(cmd *cobra.Command, args []string) {
		unread, _ := cmd.Flags().GetBool("unread")
		from, _ := cmd.Flags().GetString("from")
		since, _ := cmd.Flags().GetString("since")
		until, _ := cmd.Flags().GetString("until")
		limit, _ := cmd.Flags().GetInt("limit")
		markRead, _ := cmd.Flags().GetBool("mark-read")
		if !cmd.Flags().Changed("limit") {
			limit = config.GetInt("message-limit")
		}
		run(cmd, protocol.OpMessageList, map[string]any{
			"unread_only":   unread,
			"from_agent_id": from,
			"since":         timeFlag("since", since),
			"until":         timeFlag("until", until),
			"limit":         limit,
			"mark_read":     markRead,
		}, func(env *protocol.Envelope) {
			res, ok := env.Data.(*engine.InboxResult)
			if !ok {
				printJSON(env)
				return
			}
			fmt.Println(ui.RenderMessageList(messageViews(res.Messages)))
			if res.MarkedRead > 0 {
				fmt.Println(ui.RenderMuted(fmt.Sprintf("marked %d read", res.MarkedRead)))
			}
		})
	},
}

var msgThreadCmd = &cobra.Command{
	Use:   "thread <task-id>",
	Short: "Read a task's conversation, oldest first",
	Args:  introspectArgs(cobra.ExactArgs(1)),
	Run: func(cmd *cobra.Command, args []string) {
		since, _ := cmd.Flags().GetString("since")
		limit, _ := cmd.Flags().GetInt("limit")
		run(cmd, protocol.OpMessageThread, map[string]any{
			"task_id": argAt(args, 0),
			"since":   timeFlag("since", since),
			"limit":   limit,
		}, func(env *protocol.Envelope) {
			res, ok := env.Data.(*engine.ThreadResult)
			if !ok {
				printJSON(env)
				return
			}
			if len(res.Messages) == 0 {
				fmt.Println(ui.RenderMuted("No messages on this thread."))
				return
			}
			fmt.Printf("%s  %d message(s)\n\n", ui.RenderBold(res.TaskID), res.Count)
			for _, m := range res.Messages {
				header := fmt.Sprintf("%s %s", ui.RenderAccent(m.FromAgentID), ui.RenderMuted(m.CreatedAt))
				if m.Subject != "" {
					header += "  " + ui.RenderBold(m.Subject)
				}
				fmt.Println(header)
				fmt.Println(indent(m.Body, "  "))
				fmt.Println()
			}
		})
	},
}

var msgSearchCmd = &cobra.Command{
	Use:   "search [keyword]",
	Short: "Search all messages",
	Long: `Match a keyword against subjects and bodies, case-insensitively,
newest first. At least one of the keyword, --from, --since, or --until
must narrow the search.`,
	Run: func(cmd *cobra.Command, args []string) {
		from, _ := cmd.Flags().GetString("from")
		since, _ := cmd.Flags().GetString("since")
		until, _ := cmd.Flags().GetString("until")
		limit, _ := cmd.Flags().GetInt("limit")
		run(cmd, protocol.OpMessageSearch, map[string]any{
			"keyword":       strings.Join(args, " "),
			"from_agent_id": from,
			"since":         timeFlag("since", since),
			"until":         timeFlag("until", until),
			"limit":         limit,
		}, func(env *protocol.Envelope) {
			res, ok := env.Data.(*engine.SearchResult)
			if !ok {
				printJSON(env)
				return
			}
			fmt.Println(ui.RenderMessageList(messageViews(res.Messages)))
		})
	},
}

var msgAckCmd = &cobra.Command{
	Use:   "ack <message-id>",
	Short: "Mark one message read",
	Args:  introspectArgs(cobra.ExactArgs(1)),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.ParseInt(argAt(args, 0), 10, 64)
		if err != nil && !schemaFlag && !explainFlag {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s message id must be a number, got %q\n",
				ui.RenderError("✗"), argAt(args, 0))
			exit(2)
		}
		run(cmd, protocol.OpMessageAck, map[string]any{
			"message_id": id,
		}, func(env *protocol.Envelope) {
			res, ok := env.Data.(*engine.AckResult)
			if !ok {
				printJSON(env)
				return
			}
			fmt.Printf("%s message %d read at %s\n", ui.RenderPass("✓"), res.MessageID, res.ReadAt)
		})
	},
}

// parseRecipient splits "task:t-api" into (task, t-api); anything else
// addresses an agent inbox.
func parseRecipient(raw string) (toType, toID string) {
	if rest, ok := strings.CutPrefix(raw, "task:"); ok {
		return storage.RecipientTask, rest
	}
	return storage.RecipientAgent, strings.TrimPrefix(raw, "agent:")
}

func messageViews(messages []*storage.Message) []ui.MessageView {
	views := make([]ui.MessageView, len(messages))
	for i, m := range messages {
		views[i] = ui.MessageView{
			ID:       m.MessageID,
			From:     m.FromAgentID,
			To:       m.ToID,
			Subject:  m.Subject,
			Severity: m.Severity,
			TaskID:   m.TaskID,
			SentAt:   m.CreatedAt,
			Unread:   m.ReadAt == "",
		}
	}
	return views
}

func init() {
	msgSendCmd.Flags().StringP("subject", "s", "", "One-line subject")
	msgSendCmd.Flags().String("severity", "", "info, warning, or critical (default info)")
	msgSendCmd.Flags().String("task", "", "Task id to cross-reference from an agent-addressed message")
	msgInboxCmd.Flags().Bool("unread", false, "Only unread messages")
	msgInboxCmd.Flags().String("from", "", "Only messages from this agent")
	msgInboxCmd.Flags().String("since", "", `Lower time bound (RFC3339 or "2 hours ago")`)
	msgInboxCmd.Flags().String("until", "", "Upper time bound")
	msgInboxCmd.Flags().Int("limit", 0, "Page size (default from config, max 200)")
	msgInboxCmd.Flags().Bool("mark-read", false, "Mark everything returned as read")
	msgThreadCmd.Flags().String("since", "", "Lower time bound")
	msgThreadCmd.Flags().Int("limit", 0, "Page size (default 50, max 200)")
	msgSearchCmd.Flags().String("from", "", "Only messages from this agent")
	msgSearchCmd.Flags().String("since", "", "Lower time bound")
	msgSearchCmd.Flags().String("until", "", "Upper time bound")
	msgSearchCmd.Flags().Int("limit", 0, "Page size (default 50, max 200)")

	msgCmd.AddCommand(msgSendCmd)
	msgCmd.AddCommand(msgInboxCmd)
	msgCmd.AddCommand(msgThreadCmd)
	msgCmd.AddCommand(msgSearchCmd)
	msgCmd.AddCommand(msgAckCmd)
	rootCmd.AddCommand(msgCmd)
}

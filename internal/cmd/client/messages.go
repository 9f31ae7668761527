package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type message struct {
	ID              string            `json:"id"`
	Body            string            `json:"body"`
	ReceiptToken    string            `json:"receiptToken"`
	Priority        int               `json:"priority"`
	Attributes      map[string]string `json:"attributes,omitempty"`
	SentAt          time.Time         `json:"sentAt"`
	FirstReceivedAt time.Time         `json:"firstReceivedAt"`
	LastReceivedAt  time.Time         `json:"lastReceivedAt"`
	ReceiveCount    int64             `json:"receiveCount"`
}

// newSendCommand constructs the `send` command.
func newSendCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send [body]",
		Short: "Send a message at a priority (0 is highest)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, _ := cmd.Flags().GetString("body")
			if len(args) == 1 {
				body = args[0]
			}
			priority, _ := cmd.Flags().GetInt("priority")
			attrs, _ := cmd.Flags().GetStringToString("attr")
			group, _ := cmd.Flags().GetString("group-id")
			dedup, _ := cmd.Flags().GetString("dedup-id")
			delay, _ := cmd.Flags().GetDuration("delay")

			req := map[string]any{"body": body, "priority": priority}
			if len(attrs) > 0 {
				req["attributes"] = attrs
			}
			if group != "" {
				req["groupId"] = group
			}
			if dedup != "" {
				req["deduplicationId"] = dedup
			}
			if delay > 0 {
				req["delaySeconds"] = int(delay.Round(time.Second) / time.Second)
			}
			var out struct {
				ID string `json:"id"`
			}
			if err := newAPIClient(baseURL).post(cmd.Context(), "/v1/messages/send", req, &out); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "id:", out.ID)
			return nil
		},
	}
	cmd.Flags().StringP("body", "b", "", "Message body (or pass as argument)")
	cmd.Flags().IntP("priority", "p", 0, "Priority class")
	cmd.Flags().StringToString("attr", nil, "Attribute key=value (repeatable)")
	cmd.Flags().String("group-id", "", "Message group id (FIFO queues)")
	cmd.Flags().String("dedup-id", "", "Deduplication id")
	cmd.Flags().Duration("delay", 0, "Delay before first delivery")
	_ = cmd.MarkFlagRequired("priority")
	return cmd
}

// newReceiveCommand constructs the `receive` command.
func newReceiveCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Receive a batch in priority order",
		Long: `Receive a batch in priority order and print one JSON object per line.

With --ack every printed message is deleted along with its index entry.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			maxMsgs, _ := cmd.Flags().GetInt("max")
			attrs, _ := cmd.Flags().GetBool("attributes")
			ack, _ := cmd.Flags().GetBool("ack")

			req := map[string]any{"maxMessages": maxMsgs, "includeAttributes": attrs}
			if cmd.Flags().Changed("visibility") {
				v, _ := cmd.Flags().GetDuration("visibility")
				req["visibilityTimeoutSeconds"] = int(v / time.Second)
			}
			if cmd.Flags().Changed("wait") {
				v, _ := cmd.Flags().GetDuration("wait")
				req["waitTimeSeconds"] = int(v / time.Second)
			}
			api := newAPIClient(baseURL)
			var out struct {
				Messages []message `json:"messages"`
			}
			if err := api.post(cmd.Context(), "/v1/messages/receive", req, &out); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, m := range out.Messages {
				if err := enc.Encode(m); err != nil {
					return err
				}
				if !ack {
					continue
				}
				del := map[string]any{"receiptToken": m.ReceiptToken, "id": m.ID, "priority": m.Priority}
				if err := api.post(cmd.Context(), "/v1/messages/delete", del, nil); err != nil {
					return fmt.Errorf("ack %s: %w", m.ID, err)
				}
			}
			if len(out.Messages) == 0 {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "no messages")
			}
			return nil
		},
	}
	cmd.Flags().Int("max", 10, "Maximum messages to receive")
	cmd.Flags().Duration("visibility", 0, "Visibility timeout (default: server setting)")
	cmd.Flags().Duration("wait", 0, "Long-poll wait (default: server setting)")
	cmd.Flags().Bool("attributes", false, "Include all message attributes")
	cmd.Flags().Bool("ack", false, "Delete each message after printing it")
	return cmd
}

// newDeleteCommand constructs the `delete` command.
func newDeleteCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a received message by receipt token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			receipt, _ := cmd.Flags().GetString("receipt")
			id, _ := cmd.Flags().GetString("id")
			if receipt == "" {
				return errors.New("--receipt is required")
			}
			req := map[string]any{"receiptToken": receipt}
			if id != "" {
				if !cmd.Flags().Changed("priority") {
					return errors.New("--priority is required with --id")
				}
				p, _ := cmd.Flags().GetInt("priority")
				req["id"] = id
				req["priority"] = p
			}
			if err := newAPIClient(baseURL).post(cmd.Context(), "/v1/messages/delete", req, nil); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", "OK")
			return nil
		},
	}
	cmd.Flags().String("receipt", "", "Receipt token of the delivery")
	cmd.Flags().String("id", "", "Message id; with --priority also removes the index entry")
	cmd.Flags().IntP("priority", "p", 0, "Priority class of the message")
	return cmd
}

// newExtendCommand constructs the `extend` command.
func newExtendCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extend",
		Short: "Change the visibility timeout of a delivery",
		RunE: func(cmd *cobra.Command, _ []string) error {
			receipt, _ := cmd.Flags().GetString("receipt")
			vis, _ := cmd.Flags().GetDuration("visibility")
			if receipt == "" {
				return errors.New("--receipt is required")
			}
			req := map[string]any{"receiptToken": receipt, "visibilityTimeoutSeconds": int(vis / time.Second)}
			if err := newAPIClient(baseURL).post(cmd.Context(), "/v1/messages/extend", req, nil); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", "OK")
			return nil
		},
	}
	cmd.Flags().String("receipt", "", "Receipt token of the delivery")
	cmd.Flags().Duration("visibility", 30*time.Second, "New visibility timeout from now (0 releases the message)")
	return cmd
}

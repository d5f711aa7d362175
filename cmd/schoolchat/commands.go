package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"schoolchat/pkg/types"
)

func newConversationsCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "conversations",
		Short: "List your conversations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := buildClient(opts, nil)
			if err != nil {
				return err
			}
			if err := client.Start(cmd.Context()); err != nil {
				return err
			}
			defer client.Close()

			convs := client.Conversations()
			if len(convs) == 0 {
				fmt.Println("no conversations")
				return nil
			}
			for _, c := range convs {
				partner := c.Counterpart(opts.userID)
				line := fmt.Sprintf("%s  (%s)", partner, c.UpdatedAt.Local().Format("2006-01-02 15:04"))
				if unread := c.Unread(opts.userID); unread > 0 {
					line += fmt.Sprintf("  [%d unread]", unread)
				}
				if c.LastMessage != nil {
					line += "  " + truncate(c.LastMessage.Body, 60)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func newHistoryCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <partner>",
		Short: "Print the full message history with one user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := buildClient(opts, nil)
			if err != nil {
				return err
			}
			if err := client.Start(cmd.Context()); err != nil {
				return err
			}
			defer client.Close()

			msgs, err := client.OpenConversation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, m := range msgs {
				printMessage(m)
			}
			return nil
		},
	}
}

func newSendCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send <partner> <message...>",
		Short: "Send a text message to one user",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := buildClient(opts, nil)
			if err != nil {
				return err
			}
			if err := client.Start(cmd.Context()); err != nil {
				return err
			}
			defer client.Close()

			if _, err := client.OpenConversation(cmd.Context(), args[0]); err != nil {
				return err
			}
			msg, err := client.Send(cmd.Context(), strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			printMessage(msg)
			return nil
		},
	}
}

func newWatchCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stay connected and print incoming messages until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := buildClient(opts, func(msg types.Message) {
				printMessage(&msg)
			})
			if err != nil {
				return err
			}
			if err := client.Start(cmd.Context()); err != nil {
				return err
			}
			defer client.Close()

			fmt.Fprintln(os.Stderr, "watching for messages, press Ctrl-C to stop")
			signalCh := make(chan os.Signal, 1)
			signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-signalCh:
			case <-cmd.Context().Done():
			}
			return nil
		},
	}
}

func newDeleteCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <partner>",
		Short: "Delete the whole conversation with one user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := buildClient(opts, nil)
			if err != nil {
				return err
			}
			if err := client.Start(cmd.Context()); err != nil {
				return err
			}
			defer client.Close()

			if err := client.DeleteConversation(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("conversation with %s deleted\n", args[0])
			return nil
		},
	}
}

func printMessage(m *types.Message) {
	fmt.Printf("%s  %s: %s\n", m.CreatedAt.Local().Format(time.Kitchen), m.SenderID, m.Body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

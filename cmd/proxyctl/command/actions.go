package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"proxysync/internal/protocol"
)

var errNotPublished = errors.New("message was not queued for publishing")

// publish sends one message and waits for the outbound queue to flush.
func publish(cmd *cobra.Command, m protocol.Message) error {
	client, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	ok := client.Publish(m)
	client.Shutdown()
	if !ok {
		return errNotPublished
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published %s\n", m.Kind())
	return nil
}

func joinRest(args []string) string {
	return strings.Join(args, " ")
}

var kickCmd = &cobra.Command{
	Use:   "kick <session-id> [reason...]",
	Short: "Disconnect a session wherever it is connected",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return publish(cmd, protocol.Kick{TargetID: args[0], Reason: joinRest(args[1:])})
	},
}

var kickNameCmd = &cobra.Command{
	Use:   "kick-name <username> [reason...]",
	Short: "Disconnect a session by username",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return publish(cmd, protocol.KickByName{TargetName: args[0], Reason: joinRest(args[1:])})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <session-id> <server>",
	Short: "Move one session to a backend server",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return publish(cmd, protocol.SendPlayer{TargetID: args[0], Server: args[1]})
	},
}

var sendAllCmd = &cobra.Command{
	Use:   "send-all <server>",
	Short: "Move every session on every instance to a backend server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return publish(cmd, protocol.SendAll{Server: args[0]})
	},
}

var broadcastCmd = &cobra.Command{
	Use:   "broadcast <text...>",
	Short: "Send a legacy-formatted message to every session",
	Long:  `The text may contain & color codes, for example: proxyctl broadcast "&cRestart in 5 minutes"`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return publish(cmd, protocol.Broadcast{Text: joinRest(args)})
	},
}

var muteCmd = &cobra.Command{
	Use:   "mute <session-id> <duration> [reason...]",
	Short: "Notify a session that it was muted",
	Long:  `Use "permanent" as the duration for a mute without expiry.`,
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		duration := args[1]
		if strings.EqualFold(duration, "permanent") {
			duration = ""
		}
		return publish(cmd, protocol.MuteApplied{TargetID: args[0], Duration: duration, Reason: joinRest(args[2:])})
	},
}

func init() {
	rootCmd.AddCommand(kickCmd, kickNameCmd, sendCmd, sendAllCmd, broadcastCmd, muteCmd)
}

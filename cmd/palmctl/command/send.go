package command

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"palmcontroller/cmd/palmctl/command/client"
	"palmcontroller/pkg/protocol"
)

var (
	sendAddr     string
	sendType     string
	sendPayload  string
	sendID       string
	sendPassword string
)

// sendCmd connects like a controller, sends one message and prints the reply
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one control message to a host",
	Long: `Connect to the host, optionally pair with --password, send one message and
print everything received until the host acknowledges it.

Example:
  palmctl send --addr 192.168.1.20:8080 --type media_control --payload '{"action":"volume_up"}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := buildMessage(sendID, sendType, sendPayload)
		if err != nil {
			return err
		}

		c, err := client.Dial(cmd.Context(), sendAddr)
		if err != nil {
			return err
		}
		defer c.Close()
		out := cmd.OutOrStdout()

		if sendPassword != "" {
			result, err := c.Pair(sendPassword, timeout)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "paired")
			if result.Token != "" {
				fmt.Fprintln(out, "token:", result.Token)
			}
		}

		printMessage(out, ">", msg)
		reply, err := c.Request(msg, timeout, func(other *protocol.ControlMessage) {
			printMessage(out, "<", other)
		})
		if errors.Is(err, client.ErrNoReply) {
			return fmt.Errorf("host did not acknowledge %s within %s", msg.ID, timeout)
		}
		if err != nil {
			return err
		}
		printMessage(out, "<", reply)

		if r, ok := reply.Payload.(*protocol.Response); ok && !r.Success {
			return fmt.Errorf("host rejected message: %s", r.Message)
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendAddr, "addr", "127.0.0.1:8080", "host address (host:port)")
	sendCmd.Flags().StringVar(&sendType, "type", "", "message type, e.g. media_control")
	sendCmd.Flags().StringVar(&sendPayload, "payload", "{}", "payload JSON object")
	sendCmd.Flags().StringVar(&sendID, "id", "", "message id (generated when empty)")
	sendCmd.Flags().StringVar(&sendPassword, "password", "", "pair with this password first")
	sendCmd.MarkFlagRequired("type")
}

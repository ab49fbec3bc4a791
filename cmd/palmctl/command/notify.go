package command

import (
	"fmt"

	"github.com/spf13/cobra"

	"palmcontroller/internal/microservices/relay"
)

var (
	notifyRedis    string
	notifyPassword string
	notifyChannel  string
	notifyClient   string
	notifyType     string
	notifyPayload  string
)

// notifyCmd publishes a message the way a capability module does
var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Publish a message through the Redis relay",
	Long: `Publish an envelope on the relay channel. Every running host subscribed to
the channel delivers it to --client, or to all controllers when --client is
empty.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := buildMessage("", notifyType, notifyPayload)
		if err != nil {
			return err
		}

		rdb, err := relay.NewRedisClient(cmd.Context(), notifyRedis, notifyPassword)
		if err != nil {
			return err
		}
		defer rdb.Close()

		receivers, err := relay.NewPublisher(rdb, notifyChannel).Publish(cmd.Context(), notifyClient, msg)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published %s to %d host(s)\n", msg.ID, receivers)
		return nil
	},
}

func init() {
	notifyCmd.Flags().StringVar(&notifyRedis, "redis", "redis://127.0.0.1:6379", "Redis address or URL")
	notifyCmd.Flags().StringVar(&notifyPassword, "redis-password", "", "Redis password")
	notifyCmd.Flags().StringVar(&notifyChannel, "channel", relay.DefaultChannel, "relay channel")
	notifyCmd.Flags().StringVar(&notifyClient, "client", "", "target client id (all when empty)")
	notifyCmd.Flags().StringVar(&notifyType, "type", "", "message type")
	notifyCmd.Flags().StringVar(&notifyPayload, "payload", "{}", "payload JSON object")
	notifyCmd.MarkFlagRequired("type")
}

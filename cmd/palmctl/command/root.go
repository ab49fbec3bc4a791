package command

// root.go defines the root command for palmctl and its global flags.

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	timeout time.Duration // global wait for replies
	asJSON  bool          // print raw JSON instead of a summary
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "palmctl",
	Short: "palmctl - PalmController host tool",
	Long: `palmctl talks to a running PalmController host the way the phone app does.
It can:
- Find hosts on the local network
- Send control messages and print the replies
- Publish notifications through the Redis relay
- Prepare pairing password hashes and admin API tokens

Use "palmctl command --help" to see the flags of a command.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 3*time.Second, "how long to wait for replies")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print raw JSON")

	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(notifyCmd)
	rootCmd.AddCommand(hashPasswordCmd)
	rootCmd.AddCommand(tokenCmd)
}

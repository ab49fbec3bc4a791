package command

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	udp "palmcontroller/internal/microservices/udp-server"
	"palmcontroller/internal/netutil"
)

var (
	discoverPort    int
	discoverTargets []string
)

// discoverCmd sends the discovery probe and prints every host that answers
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find PalmController hosts on the local network",
	Long: `Broadcast the discovery probe on every local interface and print the
announcements that come back. Use --target to also probe hosts on other
subnets, e.g. --target 10.0.5.20:8079.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var extra []*net.UDPAddr
		for _, t := range discoverTargets {
			addr, err := net.ResolveUDPAddr("udp4", t)
			if err != nil {
				return fmt.Errorf("invalid target %q: %w", t, err)
			}
			extra = append(extra, addr)
		}
		targets := netutil.BroadcastTargets(netutil.LocalIPv4(), discoverPort, extra)

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		found, err := udp.Discover(ctx, targets)
		if err != nil {
			return fmt.Errorf("discovery failed: %w", err)
		}

		if len(found) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No hosts answered.")
			return nil
		}
		for _, a := range found {
			if asJSON {
				line, _ := sonic.ConfigStd.Marshal(a)
				fmt.Fprintln(cmd.OutOrStdout(), string(line))
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-22s %s v%s\n",
				a.ServiceName, net.JoinHostPort(a.IPAddress, strconv.Itoa(a.Port)), a.HostName, a.Version)
		}
		return nil
	},
}

func init() {
	discoverCmd.Flags().IntVar(&discoverPort, "port", udp.DefaultPort, "discovery port of the hosts")
	discoverCmd.Flags().StringSliceVar(&discoverTargets, "target", nil, "extra host:port to probe directly")
}

package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatline/chatline/internal/discovery"
	"github.com/chatline/chatline/internal/logger"
	"github.com/chatline/chatline/internal/wire"
	"github.com/chatline/chatline/pkg/config"
)

var discoverTimeout time.Duration

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Listen for relays on the local network",
	Long: `Listen on the discovery port and print every relay announcing itself on
the local broadcast domain. Stops after --timeout, or on Ctrl-C.`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 10*time.Second, "how long to listen (0 = until interrupted)")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	seen := make(map[string]bool)

	beacon, err := discovery.New(discovery.Config{
		ServiceName: "chatline-discover",
		Code:        wire.CodeClientDiscovery,
		Port:        cfg.Discovery.Port,
		Period:      cfg.Discovery.Period,
		OnDiscover: func(msg *wire.Message) {
			if msg.Type != wire.CodeServerDiscovery || msg.Src == nil || msg.Src.Address == nil {
				return
			}
			key := msg.Src.Username + "@" + msg.Src.Address.Host
			if seen[key] {
				return
			}
			seen[key] = true
			fmt.Fprintf(out, "relay %q at %s\n", msg.Src.Username, msg.Src.Address.Host)
		},
	})
	if err != nil {
		return err
	}
	defer beacon.Stop()

	fmt.Fprintf(out, "Listening for relays on UDP port %d...\n", cfg.Discovery.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if discoverTimeout > 0 {
		select {
		case <-sigCh:
		case <-time.After(discoverTimeout):
		}
	} else {
		<-sigCh
	}

	// Join the listener before touching seen again.
	beacon.Stop()

	if len(seen) == 0 {
		fmt.Fprintln(out, "No relays found.")
	}
	return nil
}

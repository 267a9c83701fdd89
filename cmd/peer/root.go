package main

import (
	"github.com/spf13/cobra"

	"github.com/dkeye/voicemesh/internal/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "voicemesh",
		Short: "Join a full-mesh voice room through a signaling relay",
		Long: `voicemesh joins a room on a signaling relay and negotiates a direct
WebRTC audio link with every other member of the room.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	pf := root.PersistentFlags()
	pf.String("config", "", "peer config file (yaml)")
	pf.String("relay", config.DefaultRelayURL, "relay WebSocket URL")
	pf.String("log-level", "info", "log level")

	root.AddCommand(newJoinCmd(), newRoomsCmd())
	return root
}

// loadConfig merges the config file, environment and the command's flags.
func loadConfig(cmd *cobra.Command) (*config.PeerConfig, error) {
	file, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadPeer(cmd.Flags(), file)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyLogLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	return cfg, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/voicemesh/internal/adapters/relayclient"
	"github.com/dkeye/voicemesh/internal/adapters/rtc"
	"github.com/dkeye/voicemesh/internal/config"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/identity"
	"github.com/dkeye/voicemesh/internal/media"
	"github.com/dkeye/voicemesh/internal/mesh"
	"github.com/dkeye/voicemesh/internal/ui"
)

func newJoinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join [room]",
		Short: "Join a room and stay until interrupted",
		Example: `  voicemesh join standup --username alice
  voicemesh join standup --username bob --no-mic
  voicemesh join --config peer.yaml --credential token-1`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if err := cmd.Flags().Set("room", args[0]); err != nil {
					return err
				}
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runJoin(cmd.Context(), cfg)
		},
	}
	f := cmd.Flags()
	f.String("room", "", "room to join")
	f.String("username", "", "display name")
	f.String("profile-pic", "", "avatar URL")
	f.String("credential", "", "credential resolved against the configured identities")
	f.Duration("negotiation-timeout", mesh.DefaultNegotiationTimeout, "per-peer negotiation deadline")
	f.Bool("unmuted", false, "start with the microphone live")
	f.Bool("no-mic", false, "join receive-only")
	f.Bool("rejoin", true, "rejoin the room after the relay connection drops")
	f.Duration("rejoin-min", mesh.DefaultRejoinMin, "first rejoin delay")
	f.Duration("rejoin-max", mesh.DefaultRejoinMax, "longest rejoin delay")
	return cmd
}

func resolveProfile(ctx context.Context, cfg *config.PeerConfig) (identity.Profile, error) {
	var provider identity.Provider = identity.Anonymous{Profile: identity.Profile{
		Username:   cfg.Username,
		ProfilePic: cfg.ProfilePic,
	}}
	if cfg.Credential != "" {
		provider = identity.NewStaticProvider(cfg.Identities)
	}
	profile, level, err := identity.Authorize(ctx, provider, cfg.Credential, domain.RoomID(cfg.Room))
	if err != nil {
		return identity.Profile{}, err
	}
	if cfg.Username != "" {
		profile.Username = cfg.Username
	}
	if cfg.ProfilePic != "" {
		profile.ProfilePic = cfg.ProfilePic
	}
	if profile.Username == "" {
		return identity.Profile{}, errors.New("username is required")
	}
	log.Info().Str("module", "peer").Str("username", profile.Username).Str("access", string(level)).Msg("authorized")
	return profile, nil
}

func runJoin(parent context.Context, cfg *config.PeerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	profile, err := resolveProfile(ctx, cfg)
	if err != nil {
		return err
	}

	factory, err := rtc.NewFactory(rtc.ICEServers(cfg.ICEServers))
	if err != nil {
		return err
	}
	dial := func(ctx context.Context) (mesh.RelayLink, error) {
		c, err := relayclient.Dial(ctx, cfg.RelayURL, nil)
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	var last string
	ctl := mesh.NewController(mesh.Options{
		Room:               domain.RoomID(cfg.Room),
		Username:           profile.Username,
		ProfilePic:         profile.ProfilePic,
		NegotiationTimeout: cfg.NegotiationTimeout,
		Rejoin:             cfg.Rejoin,
		RejoinMin:          cfg.RejoinMin,
		RejoinMax:          cfg.RejoinMax,
		OnRoster: func(peers []mesh.PeerInfo) {
			if view := ui.RosterView(cfg.Room, peers); view != last {
				last = view
				fmt.Println(view)
			}
		},
	}, dial, factory.Open)

	err = ctl.Start(ctx, func() (*media.LocalStream, error) {
		return media.AcquireLocalAudio(media.AudioOptions{Disabled: cfg.NoMic})
	})
	if err != nil {
		return fmt.Errorf("join %s: %w", cfg.Room, err)
	}
	if ctl.Degraded() {
		fmt.Println(ui.WarningStyle.Render(fmt.Sprintf("receive-only: %v", ctl.MediaErr())))
	} else if cfg.Unmuted {
		if err := ctl.SetMuted(false); err != nil {
			log.Warn().Err(err).Str("module", "peer").Msg("unmute failed")
		}
	}

	select {
	case <-ctx.Done():
		ctl.Leave()
	case <-ctl.Done():
	}
	if err := ctl.Err(); err != nil {
		return err
	}
	fmt.Println(ui.SuccessStyle.Render("left " + cfg.Room))
	return nil
}

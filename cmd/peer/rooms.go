package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/dkeye/voicemesh/internal/config"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/ui"
)

func newRoomsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List the relay's active rooms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			rooms, err := fetchRooms(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Println(ui.RoomsView(rooms))
			return nil
		},
	}
}

func fetchRooms(ctx context.Context, cfg *config.PeerConfig) ([]core.RoomInfo, error) {
	base, err := cfg.HTTPBase()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/rooms", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list rooms: relay answered %s", resp.Status)
	}
	var rooms []core.RoomInfo
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	return rooms, nil
}

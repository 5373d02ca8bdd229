package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sana-health/procsync/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:     "token",
	GroupID: "advanced",
	Short:   "Mint a device token for a catalog server",
	RunE: func(cmd *cobra.Command, args []string) error {
		device, _ := cmd.Flags().GetString("device")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		secret := cfg.Server.JWTSecret
		if secret == "" {
			secret = cfg.Remote.JWTSecret
		}
		if secret == "" {
			return fmt.Errorf("no signing secret: set server.jwt_secret or remote.jwt_secret")
		}
		if device == "" {
			device = cfg.Remote.DeviceID
		}
		if device == "" {
			return fmt.Errorf("--device is required")
		}

		tok, err := auth.Mint([]byte(secret), device, ttl, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("device", "", "Device id to put in the token (default: remote.device_id)")
	tokenCmd.Flags().Duration("ttl", auth.DefaultTTL, "Token lifetime")

	rootCmd.AddCommand(tokenCmd)
}

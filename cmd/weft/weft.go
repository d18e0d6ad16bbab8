// Package weftcmder
package weftcmder

import (
	"github.com/spf13/cobra"

	servecmder "github.com/weftlabs/weft/cmd/weft/serve"
	versioncmder "github.com/weftlabs/weft/cmd/weft/version"
)

const weftLongDesc string = `Weft routes conversation turns to the right model,
streams the reply, and records every turn.

Run the service using:
  weft serve           Run the conversation API server`

const weftShortDesc string = "Weft - Model Orchestration"

func NewWeftCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "weft",
		Short: weftShortDesc,
		Long:  weftLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Directory holding config.toml (default: .weft/ resolution)")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}

package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nark2019/careerforgeai-sub001/internal/app"
)

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Destroy the embedded database",
		Long: `Delete every stored record, queued write and fallback mirror, then
re-create the empty schema. Queued writes that were not synced are lost.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("reset destroys all local data; pass --yes to confirm")
			}
			return withApp(cmd.Context(), rootOpts, func(a *app.App) error {
				if err := a.Store.Reset(cmd.Context()); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "reset %s (schema version %d)\n", a.Store.Path(), a.Store.Version())
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nark2019/careerforgeai-sub001/internal/app"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var noCache bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon",
		Long: `Run the HTTP API, the caching proxy and the connectivity monitor until
interrupted. Queued writes are replayed whenever the remote API becomes
reachable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), rootOpts, func(a *app.App) error {
				if !noCache {
					if err := a.OpenCache(cmd.Context()); err != nil {
						// The daemon stays useful without the resource cache.
						logrus.WithError(err).Error("Resource cache unavailable; serving without it")
					}
				}
				return a.Serve(cmd.Context())
			})
		},
	}

	cmd.Flags().BoolVar(&noCache, "no-cache", false, "do not open the resource cache or proxy upstream")
	return cmd
}

package cli

import (
	"github.com/spf13/cobra"

	"github.com/nark2019/careerforgeai-sub001/internal/app"
	"github.com/nark2019/careerforgeai-sub001/pkg/types"
)

// NewInstallCommand creates the install command.
func NewInstallCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		activate bool
		manifest []string
	)

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Populate the resource cache generation",
		Long: `Fetch every manifest URL into the configured cache generation. The
installation fails as a whole when any URL cannot be fetched. With
--activate the stale generations are removed afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), rootOpts, func(a *app.App) error {
				ctx := cmd.Context()
				if err := a.OpenCache(ctx); err != nil {
					return err
				}

				urls := manifest
				if len(urls) == 0 {
					var err error
					if urls, err = a.ManifestURLs(); err != nil {
						return err
					}
				}
				if err := a.Cache.Install(ctx, urls); err != nil {
					return err
				}

				out := types.ActivateResponse{Generation: a.Cache.Generation(), Deleted: []string{}}
				if activate {
					deleted, err := a.Cache.Activate(ctx)
					if err != nil {
						return err
					}
					if deleted != nil {
						out.Deleted = deleted
					}
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}

	cmd.Flags().BoolVar(&activate, "activate", false, "delete stale generations after installing")
	cmd.Flags().StringSliceVar(&manifest, "url", nil, "URL to install instead of the configured manifest (repeatable)")
	return cmd
}

package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nark2019/careerforgeai-sub001/internal/app"
	"github.com/nark2019/careerforgeai-sub001/internal/syncer"
)

// NewDrainCommand creates the drain command.
func NewDrainCommand(rootOpts *RootOptions) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "drain <tag>|all",
		Short: "Replay queued writes once",
		Long: fmt.Sprintf(`Run one drain pass for a sync tag and print the result.

Known tags: %s, %s. "all" drains every queue.`, syncer.TagChatMessages, syncer.TagUserData),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tags := syncer.Tags
			if args[0] != "all" {
				tag, err := syncer.ParseTag(args[0])
				if err != nil {
					return err
				}
				tags = []syncer.Tag{tag}
			}

			return withApp(cmd.Context(), rootOpts, func(a *app.App) error {
				if token != "" {
					a.Credentials.SetAccessToken(token)
				}

				var errs []error
				results := make([]syncer.DrainResult, 0, len(tags))
				for _, tag := range tags {
					res, err := a.Sync.Trigger(cmd.Context(), tag)
					if err != nil {
						errs = append(errs, fmt.Errorf("%s: %w", tag, err))
						continue
					}
					results = append(results, res)
				}
				if err := printJSON(cmd.OutOrStdout(), results); err != nil {
					errs = append(errs, err)
				}
				return errors.Join(errs...)
			})
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "access token for entries queued without one")
	return cmd
}

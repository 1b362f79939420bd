package cmd

import (
	"github.com/spf13/cobra"

	"filesearch/internal/adapter/outbound/index"
	"filesearch/internal/application/common/slogger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the search index schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		idx, err := index.NewPostgresIndex(ctx, cfg.Index, cfg.Embedding.Dimensions)
		if err != nil {
			return err
		}
		defer idx.Close()

		if err := idx.Migrate(ctx); err != nil {
			return err
		}
		slogger.Info(ctx, "Schema up to date", slogger.Fields{
			"dimensions": cfg.Embedding.Dimensions,
		})
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

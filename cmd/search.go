package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"filesearch/internal/adapter/outbound/index"
	"filesearch/internal/application/service"
	"filesearch/internal/port/outbound"
)

var (
	searchCategory string
	searchLimit    int
	searchJSON     bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run a keyword search against the index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		idx, err := index.NewPostgresIndex(ctx, cfg.Index, cfg.Embedding.Dimensions)
		if err != nil {
			return err
		}
		defer idx.Close()

		results, err := service.NewSearchService(idx).Search(ctx, outbound.SearchQuery{
			Text:     args[0],
			Category: searchCategory,
			Limit:    searchLimit,
		})
		if err != nil {
			return err
		}

		if searchJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}

		if len(results) == 0 {
			fmt.Println("No matches.")
			return nil
		}
		for i, r := range results {
			fmt.Printf("%2d. %.4f  %s\n    %s\n", i+1, r.Score, r.Locator, r.Snippet)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchCategory, "category", "", "restrict to one path category")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "maximum results (0 = configured default)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "emit results as JSON")
	rootCmd.AddCommand(searchCmd)
}

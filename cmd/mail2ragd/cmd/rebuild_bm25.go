package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/mail2rag/internal/app"
)

// newRebuildBM25Cmd creates the rebuild-bm25 command: force a
// synchronous BM25 rebuild for one collection from the CLI, the same
// operation the HTTP /build-bm25/{collection} endpoint exposes, for
// operators who would rather script this than curl the API.
func newRebuildBM25Cmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-bm25 <collection>",
		Short: "Rebuild a collection's BM25 index from its vector store contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection := args[0]
			ctx := cmd.Context()

			cfg, logger, err := loadConfig()
			if err != nil {
				return fmt.Errorf("rebuild-bm25: load config: %w", err)
			}

			a, err := app.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("rebuild-bm25: construct app: %w", err)
			}
			defer a.Close()

			if err := a.RebuildNow(ctx, collection); err != nil {
				return fmt.Errorf("rebuild-bm25: %w", err)
			}

			docsCount := 0
			if idx, err := a.Registry.BM25For(collection); err == nil && idx != nil {
				docsCount = idx.Stats().DocumentCount
			}
			fmt.Printf("rebuilt %s: %d documents\n", collection, docsCount)
			return nil
		},
	}
}

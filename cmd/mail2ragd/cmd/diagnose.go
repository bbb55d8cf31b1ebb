package cmd

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/mail2rag/internal/app"
)

// statusLine renders a dependency check result, colorized when stdout
// is an interactive terminal and plain otherwise, so piped/CI output
// stays grep-friendly.
func statusLine(name string, ok bool, err error) string {
	label := "OK"
	if !ok {
		label = fmt.Sprintf("FAIL (%v)", err)
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return fmt.Sprintf("%s: %s", name, label)
	}
	color := "\033[32m"
	if !ok {
		color = "\033[31m"
	}
	return fmt.Sprintf("%s: %s%s\033[0m", name, color, label)
}

// newDiagnoseCmd creates the diagnose command: construct the same
// wiring serve would, probe the vector store and LLM the way
// internal/httpapi's /readyz handler does, and report the result
// without binding a port or starting the mail loop.
func newDiagnoseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Check connectivity to the vector store and LLM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, logger, err := loadConfig()
			if err != nil {
				return fmt.Errorf("diagnose: load config: %w", err)
			}

			a, err := app.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("diagnose: construct app: %w", err)
			}
			defer a.Close()

			ok := true

			_, vecErr := a.Vectors.ListCollections(ctx)
			fmt.Println(statusLine("vector_store", vecErr == nil, vecErr))
			ok = ok && vecErr == nil

			_, llmErr := a.LLM.Embed(ctx, []string{"diagnose probe"})
			fmt.Println(statusLine("llm", llmErr == nil, llmErr))
			ok = ok && llmErr == nil

			names := a.Registry.Names()
			fmt.Printf("bm25: OK (%d collection(s) tracked)\n", len(names))

			if !ok {
				return fmt.Errorf("diagnose: one or more dependencies unreachable")
			}
			return nil
		},
	}
}

package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/modref/internal/model"
	"github.com/ppiankov/modref/internal/pipeline"
)

var indexTimeout time.Duration

// indexCmd represents the index command
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the evidence index and print its statistics",
	Long: `Index loads the content repository, splits every entity into chunks and
embeds them. With a disk cache configured, later runs reuse the stored
vectors instead of calling the embedding provider again.

Example:
  modref index
  modref index --content rules.yaml --offline`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().DurationVar(&indexTimeout, "timeout", 10*time.Minute, "index build timeout")
	addRetrievalFlags(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), indexTimeout)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRetrievalFlags(cfg)

	p, err := pipeline.NewPipeline(cfg)
	if err != nil {
		return err
	}

	stats, err := p.BuildIndex(ctx, cfg.Retrieval.UseOffline)
	if err != nil {
		return fmt.Errorf("index failed: %w", err)
	}

	fmt.Fprintf(os.Stdout, "\n")
	fmt.Fprintf(os.Stdout, "  Content:     %s\n", cfg.Content.Path)
	fmt.Fprintf(os.Stdout, "  Entities:    %d\n", stats.Entities)
	fmt.Fprintf(os.Stdout, "  Chunks:      %d\n", stats.Chunks)
	for _, k := range model.AllKinds() {
		fmt.Fprintf(os.Stdout, "    %-11s %d\n", k.Label()+":", stats.ByKind[k])
	}
	fmt.Fprintf(os.Stdout, "  Dimensions:  %d\n", stats.Dimensions)
	fmt.Fprintf(os.Stdout, "  Build time:  %s\n", stats.BuildDuration)
	fmt.Fprintf(os.Stdout, "\n")
	return nil
}

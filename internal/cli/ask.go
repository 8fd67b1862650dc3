package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/modref/internal/model"
	"github.com/ppiankov/modref/internal/pipeline"
)

var (
	outJSON       string
	outMD         string
	timeout       time.Duration
	contentPath   string
	kindFlag      string
	penaltyMode   bool
	offline       bool
	topK          int
	minSimilarity float64
	includeChunks bool
	llmEnabled    bool
	llmProvider   string
	llmModel      string
)

// askCmd represents the ask command
var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a moderator question from the rule corpus",
	Long: `Ask retrieves the rule passages most similar to the question, scores how
much the evidence can be trusted and prints the cited sources.

Low-confidence questions are not answered: modref recommends escalating
them to a senior moderator instead.

Example:
  modref ask "what is the penalty for spam?"
  modref ask "how do I use slowmode" --kind command
  modref ask "user posted an invite link" --penalty --md answer.md
  modref ask "raid in progress" --llm --llm-provider anthropic`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().StringVar(&outJSON, "json", "", "output JSON path (optional)")
	askCmd.Flags().StringVar(&outMD, "md", "", "output Markdown path (optional)")
	askCmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall timeout including the first index build")
	addRetrievalFlags(askCmd)

	askCmd.Flags().StringVar(&kindFlag, "kind", "", "restrict to one source kind (guide, penalty, command, procedure)")
	askCmd.Flags().BoolVar(&penaltyMode, "penalty", false, "combine penalty definitions with supporting guides")
	askCmd.Flags().BoolVar(&includeChunks, "include-chunks", false, "include matched passages in Markdown output")

	askCmd.Flags().BoolVar(&llmEnabled, "llm", false, "generate an answer with an LLM")
	askCmd.Flags().StringVar(&llmProvider, "llm-provider", "openai", "LLM provider (openai, anthropic, ollama)")
	askCmd.Flags().StringVar(&llmModel, "llm-model", "", "LLM model name")
}

// addRetrievalFlags registers the flags shared by ask, index and batch
func addRetrievalFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&contentPath, "content", "", "content repository file (overrides config)")
	cmd.Flags().BoolVar(&offline, "offline", false, "use the deterministic offline embedder")
	cmd.Flags().IntVar(&topK, "top-k", 0, "maximum chunks to retrieve (default from config)")
	cmd.Flags().Float64Var(&minSimilarity, "min-similarity", -1, "similarity floor (default from config)")
}

// applyRetrievalFlags overlays the shared flags onto cfg
func applyRetrievalFlags(cfg *model.Config) {
	if contentPath != "" {
		cfg.Content.Path = contentPath
	}
	if offline {
		cfg.Retrieval.UseOffline = true
	}
	if topK > 0 {
		cfg.Retrieval.TopK = topK
	}
	if minSimilarity >= 0 {
		cfg.Retrieval.MinSimilarity = minSimilarity
	}
}

// applyLLMFlags enables the answering layer from flags
func applyLLMFlags(cfg *model.Config) error {
	if !llmEnabled {
		return nil
	}
	cfg.LLM.Provider = llmProvider
	if llmModel != "" {
		cfg.LLM.Model = llmModel
	}
	cfg.LLM.StrictEvidence = true

	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = llmKeyFromEnv(llmProvider)
	}
	switch strings.ToLower(llmProvider) {
	case "openai":
		if cfg.LLM.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	case "anthropic", "claude":
		if cfg.LLM.APIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY environment variable not set")
		}
	case "ollama":
		if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" && cfg.LLM.BaseURL == "" {
			cfg.LLM.BaseURL = baseURL
		}
	}
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRetrievalFlags(cfg)
	if includeChunks {
		cfg.Output.IncludeChunks = true
	}
	if err := applyLLMFlags(cfg); err != nil {
		return err
	}

	req := pipeline.Request{Query: query, Penalty: penaltyMode}
	if kindFlag != "" {
		kind, err := model.ParseKind(kindFlag)
		if err != nil {
			return err
		}
		req.Kind = kind
	}

	p, err := pipeline.NewPipeline(cfg)
	if err != nil {
		return err
	}
	req.Options = p.Defaults()

	report, err := p.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	renderer := pipeline.NewRenderer(cfg.Output.IncludeChunks)
	if outJSON != "" {
		if err := renderer.RenderJSON(report, outJSON); err != nil {
			return fmt.Errorf("render JSON: %w", err)
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "✓ Wrote JSON: %s\n", outJSON)
		}
	}
	if outMD != "" {
		if err := renderer.RenderMarkdown(report, outMD); err != nil {
			return fmt.Errorf("render markdown: %w", err)
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "✓ Wrote Markdown: %s\n", outMD)
		}
	}

	renderer.WriteSummary(os.Stdout, report)
	return nil
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"palicanon/internal/domain"
	"palicanon/internal/usecase"
)

var (
	packQuery  string
	packBudget int
	packOutput string
	packTopK   int
	packFormat string
	packBasket string
	packNikaya string
)

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Pack cited passages for LLM consumption",
	Long: `Retrieve passages and pack them into numbered context blocks that fit
within a token budget, followed by the list of cited sources. When too few
passages are found the pack is refused with an explanatory message.

Examples:
  palicanon pack -q "what is dependent origination"
  palicanon pack -q "the simile of the saw" -b 2000 -o context.json
  palicanon pack -q "the fire sermon" --format text`,
	RunE: runPack,
}

func init() {
	rootCmd.AddCommand(packCmd)
	packCmd.Flags().StringVarP(&packQuery, "query", "q", "", "question (required)")
	packCmd.Flags().IntVarP(&packBudget, "budget", "b", 0, "token budget (default from config)")
	packCmd.Flags().StringVarP(&packOutput, "output", "o", "", "output file (default: stdout)")
	packCmd.Flags().IntVarP(&packTopK, "top-k", "k", 0, "number of passages (default from config)")
	packCmd.Flags().StringVar(&packFormat, "format", "", "json or text (default from config)")
	packCmd.Flags().StringVar(&packBasket, "basket", "", "restrict to a basket: sutta, vinaya or abhidhamma")
	packCmd.Flags().StringVar(&packNikaya, "nikaya", "", "restrict to a nikaya: DN, MN, SN, AN or KN")
	packCmd.MarkFlagRequired("query")
}

func runPack(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	format := cfg.Pack.Output
	if packFormat != "" {
		format = packFormat
	}
	if format != "json" && format != "text" {
		return fmt.Errorf("unsupported format %q: use json or text", format)
	}

	override, err := constraintFlags(packBasket, packNikaya)
	if err != nil {
		return err
	}

	eng, err := openEngine(false)
	if err != nil {
		return err
	}
	defer eng.Close()

	packed, err := packQuestion(cmd.Context(), eng, packQuery, packTopK, packBudget, override)
	if err != nil {
		return err
	}

	var output []byte
	if format == "json" {
		output, err = json.MarshalIndent(packed, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
	} else {
		output = []byte(usecase.Render(packed))
	}

	if packOutput == "" {
		fmt.Println(string(output))
		return nil
	}

	if err := os.WriteFile(packOutput, output, 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	fmt.Printf("Context packed to: %s\n", packOutput)
	if packed.Refused {
		fmt.Printf("  Refused:  %s\n", packed.Message)
		return nil
	}
	fmt.Printf("  Snippets: %d\n", len(packed.Snippets))
	fmt.Printf("  Sources:  %d\n", len(packed.Sources))
	fmt.Printf("  Tokens:   %d / %d\n", packed.UsedTokens, packed.BudgetTokens)
	return nil
}

// packQuestion retrieves k passages for question and packs them into budget
// tokens. Zero k and budget fall back to the config.
func packQuestion(ctx context.Context, eng *engine, question string, k, budget int, override domain.Constraints) (domain.PackedContext, error) {
	cfg := GetConfig()
	if budget <= 0 {
		budget = cfg.Pack.TokenBudget
	}

	q, err := eng.retrieve.Retrieve(ctx, question, k, override)
	if err != nil {
		return domain.PackedContext{}, fmt.Errorf("retrieval failed: %w", err)
	}

	packUC := usecase.NewPackUseCase(eng.tokenizer, cfg.Retrieve.MinHits)
	packed, err := packUC.Pack(question, q.Result.Hits, budget)
	if err != nil {
		return domain.PackedContext{}, fmt.Errorf("packing failed: %w", err)
	}
	logger.Debug("packed context",
		"snippets", len(packed.Snippets),
		"tokens", packed.UsedTokens,
		"refused", packed.Refused)
	return packed, nil
}

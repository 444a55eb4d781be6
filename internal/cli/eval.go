package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"palicanon/internal/usecase"
)

var (
	evalTopK   int
	evalOutput string
)

var evalCmd = &cobra.Command{
	Use:   "eval <golden.json>",
	Short: "Measure retrieval quality against a golden set",
	Long: `Run every question of a golden set through planning and retrieval and
report recall, precision, MRR, nDCG and keyword coverage.

The golden set is a JSON array of objects with id, question, expected_pdfs
and expected_keywords.

Examples:
  palicanon eval eval/golden_set.json
  palicanon eval eval/golden_set.json -k 5 -o report.json`,
	Args: cobra.ExactArgs(1),
	RunE: runEval,
}

func init() {
	rootCmd.AddCommand(evalCmd)
	evalCmd.Flags().IntVarP(&evalTopK, "top-k", "k", 10, "passages retrieved per question")
	evalCmd.Flags().StringVarP(&evalOutput, "output", "o", "", "write the full JSON report to this file")
}

func runEval(cmd *cobra.Command, args []string) error {
	items, err := usecase.LoadGoldenSet(args[0])
	if err != nil {
		return err
	}

	eng, err := openEngine(false)
	if err != nil {
		return err
	}
	defer eng.Close()

	report, err := usecase.NewEvalUseCase(eng.retrieve, logger).Evaluate(cmd.Context(), items, evalTopK)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	s := report.Summary
	fmt.Printf("Evaluated %d questions at k=%d\n\n", s.TotalQuestions, s.K)
	fmt.Printf("  Recall@%d:         %.3f\n", s.K, s.AvgRecall)
	fmt.Printf("  Precision@%d:      %.3f\n", s.K, s.AvgPrecision)
	fmt.Printf("  MRR:               %.3f\n", s.AvgMRR)
	fmt.Printf("  nDCG@%d:           %.3f\n", s.K, s.AvgNDCG)
	fmt.Printf("  Keyword coverage:  %.3f\n", s.AvgKeywordCoverage)
	fmt.Printf("  Perfect recall:    %d / %d\n", s.PerfectRecallCount, s.TotalQuestions)

	var misses []usecase.QuestionReport
	for _, qr := range report.PerQuestion {
		if len(qr.MissingPDFs) > 0 {
			misses = append(misses, qr)
		}
	}
	if len(misses) > 0 {
		fmt.Printf("\nQuestions missing expected sources:\n")
		for _, qr := range misses {
			fmt.Printf("  - [%v] %s: missing %v\n", qr.ID, qr.Question, qr.MissingPDFs)
		}
	}

	if evalOutput != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(evalOutput, data, 0644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Printf("\nReport written to: %s\n", evalOutput)
	}
	return nil
}

package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"palicanon/internal/domain"
	"palicanon/internal/usecase"
)

var (
	queryText    string
	queryTopK    int
	queryJSON    bool
	queryNoCache bool
	queryBasket  string
	queryNikaya  string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Retrieve cited passages",
	Long: `Retrieve passages with vector + BM25 ranking, MMR diversity and
translation de-duplication. Basket and nikaya are inferred from the question
unless given explicitly; when a constrained search returns too few passages
the search is broadened to the whole corpus.

Without -q, questions are read line by line from stdin.

Examples:
  palicanon query -q "What is the fire sermon about?"
  palicanon query -q "rules about robes" --basket vinaya -k 5 --json`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "question (omit for interactive mode)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of results (default from config)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.Flags().BoolVar(&queryNoCache, "no-cache", false, "disable the query result cache")
	queryCmd.Flags().StringVar(&queryBasket, "basket", "", "restrict to a basket: sutta, vinaya or abhidhamma")
	queryCmd.Flags().StringVar(&queryNikaya, "nikaya", "", "restrict to a nikaya: DN, MN, SN, AN or KN")
}

// constraintFlags parses --basket and --nikaya.
func constraintFlags(basket, nikaya string) (domain.Constraints, error) {
	b, err := domain.ParseBasket(basket)
	if err != nil {
		return domain.Constraints{}, err
	}
	n, err := domain.ParseNikaya(nikaya)
	if err != nil {
		return domain.Constraints{}, err
	}
	return domain.Constraints{Basket: b, Nikaya: n}, nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	override, err := constraintFlags(queryBasket, queryNikaya)
	if err != nil {
		return err
	}

	eng, err := openEngine(!queryNoCache)
	if err != nil {
		return err
	}
	defer eng.Close()

	if queryText != "" {
		return answerOne(cmd.Context(), eng, queryText, override)
	}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Fprint(os.Stderr, "> ")
	for scanner.Scan() {
		q := strings.TrimSpace(scanner.Text())
		if q != "" {
			if err := answerOne(cmd.Context(), eng, q, override); err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
			}
		}
		fmt.Fprint(os.Stderr, "> ")
	}
	fmt.Fprintln(os.Stderr)
	return scanner.Err()
}

func answerOne(ctx context.Context, eng *engine, question string, override domain.Constraints) error {
	q, err := eng.retrieve.Retrieve(ctx, question, queryTopK, override)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if queryJSON {
		output, err := json.MarshalIndent(q, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(output))
		return nil
	}

	printHits(q)
	return nil
}

func printHits(q *usecase.Query) {
	hits := q.Result.Hits
	if len(hits) == 0 {
		fmt.Println(usecase.NoPassagesMessage)
		return
	}

	scope := "whole corpus"
	if c := q.Plan.Constraints; !c.IsZero() {
		scope = strings.TrimSpace(string(c.Basket) + " " + string(c.Nikaya))
	}
	fmt.Printf("Found %d passages for: %s (%s, %s phase", len(hits), q.Plan.Query, scope, q.Result.Phase)
	if q.Result.Broadened {
		fmt.Print(", broadened")
	}
	fmt.Println(")")
	fmt.Println()

	for _, h := range hits {
		fmt.Printf("--- [%d] %s p.%d (%s, score: %.3f) ---\n", h.Rank, h.SourceDocument, h.PageNumber, h.SpanID, h.Score)
		text := strings.Join(strings.Fields(h.Text), " ")
		if r := []rune(text); len(r) > 500 {
			text = string(r[:500]) + "..."
		}
		fmt.Println(text)
		fmt.Println()
	}
}

package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var planQuery string

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the query plan for a question",
	Long: `Print the search terms, canonical targets and basket/nikaya constraints
the planner derives from a question, without searching.

Examples:
  palicanon plan -q "What does SN 35.28 say about burning?"`,
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().StringVarP(&planQuery, "query", "q", "", "question (required)")
	planCmd.MarkFlagRequired("query")
}

func runPlan(cmd *cobra.Command, args []string) error {
	eng, err := openEngine(false)
	if err != nil {
		return err
	}
	defer eng.Close()

	plan := eng.retrieve.Plan(planQuery)
	output, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(output))
	return nil
}

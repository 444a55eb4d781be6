package cli

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/spf13/cobra"

	"palicanon/internal/domain"
)

//go:embed templates/*.txt
var promptTemplates embed.FS

var (
	promptWorkbook bool
	promptCtx      string
	promptQuery    string
	promptBudget   int
)

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Generate an LLM prompt from packed passages",
	Long: `Render a prompt for an external LLM from a packed context, either read
from a file written by 'palicanon pack -o' or packed on the fly for -q.

Use --workbook for a beginner workbook entry instead of a direct answer.

Examples:
  palicanon prompt -q "What is the fire sermon about?"
  palicanon prompt --ctx context.json
  palicanon prompt --workbook -q "loving-kindness"`,
	RunE: runPrompt,
}

func init() {
	rootCmd.AddCommand(promptCmd)
	promptCmd.Flags().BoolVar(&promptWorkbook, "workbook", false, "use the workbook entry template")
	promptCmd.Flags().StringVar(&promptCtx, "ctx", "", "path to packed context JSON file")
	promptCmd.Flags().StringVarP(&promptQuery, "query", "q", "", "question (overrides the packed query)")
	promptCmd.Flags().IntVarP(&promptBudget, "budget", "b", 0, "token budget when packing with -q (default from config)")
}

func runPrompt(cmd *cobra.Command, args []string) error {
	if promptCtx == "" && promptQuery == "" {
		return fmt.Errorf("must specify --ctx or -q")
	}

	var packed domain.PackedContext
	if promptCtx != "" {
		data, err := os.ReadFile(promptCtx)
		if err != nil {
			return fmt.Errorf("failed to read context file: %w", err)
		}
		if err := json.Unmarshal(data, &packed); err != nil {
			return fmt.Errorf("failed to parse context file: %w", err)
		}
		if promptQuery != "" {
			packed.Query = promptQuery
		}
	} else {
		eng, err := openEngine(false)
		if err != nil {
			return err
		}
		defer eng.Close()

		packed, err = packQuestion(cmd.Context(), eng, promptQuery, 0, promptBudget, domain.Constraints{})
		if err != nil {
			return err
		}
	}

	if packed.Refused {
		fmt.Println(packed.Message)
		return nil
	}

	name := "templates/answer_prompt.txt"
	if promptWorkbook {
		name = "templates/workbook_prompt.txt"
	}
	out, err := renderPrompt(name, packed)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func renderPrompt(name string, packed domain.PackedContext) (string, error) {
	content, err := promptTemplates.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("template not found: %w", err)
	}

	tmpl, err := template.New("prompt").Funcs(templateFuncs()).Parse(string(content))
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, packed); err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatSnippets": func(snippets []domain.Snippet) string {
			blocks := make([]string, len(snippets))
			for i, s := range snippets {
				blocks[i] = s.Ref + "\n" + s.Text
			}
			return strings.Join(blocks, "\n\n")
		},
		"formatSources": func(sources []string) string {
			var sb strings.Builder
			sb.WriteString("Sources:")
			for _, s := range sources {
				sb.WriteString("\n- ")
				sb.WriteString(s)
			}
			return sb.String()
		},
	}
}

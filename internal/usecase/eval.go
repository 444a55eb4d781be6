package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"

	"palicanon/internal/domain"
)

// GoldenItem is one question of a retrieval golden set.
type GoldenItem struct {
	ID               any      `json:"id"`
	Question         string   `json:"question"`
	ExpectedPDFs     []string `json:"expected_pdfs"`
	ExpectedKeywords []string `json:"expected_keywords"`
}

// LoadGoldenSet reads a JSON array of golden items.
func LoadGoldenSet(path string) ([]GoldenItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read golden set: %w", err)
	}
	var items []GoldenItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse golden set %s: %w", path, err)
	}
	return items, nil
}

type QuestionReport struct {
	ID              any      `json:"id"`
	Question        string   `json:"question"`
	Recall          float64  `json:"recall"`
	Precision       float64  `json:"precision"`
	MRR             float64  `json:"mrr"`
	NDCG            float64  `json:"ndcg"`
	KeywordCoverage float64  `json:"keyword_coverage"`
	Broadened       bool     `json:"broadened"`
	ExpectedPDFs    []string `json:"expected_pdfs"`
	FoundPDFs       []string `json:"found_pdfs"`
	MissingPDFs     []string `json:"missing_pdfs"`
	FoundKeywords   []string `json:"found_keywords"`
	MissingKeywords []string `json:"missing_keywords"`
}

type EvalSummary struct {
	TotalQuestions     int     `json:"total_questions"`
	K                  int     `json:"k"`
	AvgRecall          float64 `json:"avg_recall"`
	AvgPrecision       float64 `json:"avg_precision"`
	AvgMRR             float64 `json:"avg_mrr"`
	AvgNDCG            float64 `json:"avg_ndcg"`
	AvgKeywordCoverage float64 `json:"avg_keyword_coverage"`
	PerfectRecallCount int     `json:"perfect_recall_count"`
}

type EvalReport struct {
	Summary     EvalSummary      `json:"summary"`
	PerQuestion []QuestionReport `json:"per_question"`
}

// EvalUseCase measures retrieval quality against a golden set.
type EvalUseCase struct {
	retrieve *RetrieveUseCase
	logger   *slog.Logger
}

func NewEvalUseCase(retrieve *RetrieveUseCase, logger *slog.Logger) *EvalUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &EvalUseCase{retrieve: retrieve, logger: logger}
}

// Evaluate runs every golden question through planning and retrieval with
// k hits. A retrieval error aborts the run.
func (u *EvalUseCase) Evaluate(ctx context.Context, items []GoldenItem, k int) (*EvalReport, error) {
	report := &EvalReport{
		Summary:     EvalSummary{TotalQuestions: len(items), K: k},
		PerQuestion: make([]QuestionReport, 0, len(items)),
	}

	for _, item := range items {
		q, err := u.retrieve.Retrieve(ctx, item.Question, k, domain.Constraints{})
		if err != nil {
			return nil, fmt.Errorf("question %v: %w", item.ID, err)
		}
		qr := scoreQuestion(item, q.Result)
		report.PerQuestion = append(report.PerQuestion, qr)

		s := &report.Summary
		s.AvgRecall += qr.Recall
		s.AvgPrecision += qr.Precision
		s.AvgMRR += qr.MRR
		s.AvgNDCG += qr.NDCG
		s.AvgKeywordCoverage += qr.KeywordCoverage
		if len(item.ExpectedPDFs) > 0 && qr.Recall == 1 {
			s.PerfectRecallCount++
		}

		u.logger.Debug("evaluated question",
			"id", item.ID,
			"recall", qr.Recall,
			"mrr", qr.MRR,
			"keywords", qr.KeywordCoverage)
	}

	if n := float64(len(items)); n > 0 {
		s := &report.Summary
		s.AvgRecall /= n
		s.AvgPrecision /= n
		s.AvgMRR /= n
		s.AvgNDCG /= n
		s.AvgKeywordCoverage /= n
	}
	return report, nil
}

func scoreQuestion(item GoldenItem, result domain.Result) QuestionReport {
	retrieved := make([]string, len(result.Hits))
	texts := make([]string, len(result.Hits))
	for i, h := range result.Hits {
		retrieved[i] = h.SourceDocument
		texts[i] = h.Text
	}

	qr := QuestionReport{
		ID:           item.ID,
		Question:     item.Question,
		Broadened:    result.Broadened,
		ExpectedPDFs: item.ExpectedPDFs,
		Recall:       RecallAtK(retrieved, item.ExpectedPDFs),
		Precision:    PrecisionAtK(retrieved, item.ExpectedPDFs),
		MRR:          ReciprocalRank(retrieved, item.ExpectedPDFs),
	}

	relevant := make(map[string]bool, len(item.ExpectedPDFs))
	for _, p := range item.ExpectedPDFs {
		relevant[p] = true
	}
	// Binary gain, credited to the first hit of each relevant document.
	gains := make([]float64, len(retrieved))
	credited := make(map[string]bool)
	for i, r := range retrieved {
		if relevant[r] && !credited[r] {
			credited[r] = true
			gains[i] = 1
		}
	}
	ideal := make([]float64, min(len(relevant), len(retrieved)))
	for i := range ideal {
		ideal[i] = 1
	}
	qr.NDCG = NDCG(gains, ideal)

	found := make(map[string]bool)
	for _, r := range retrieved {
		found[r] = true
	}
	for _, p := range item.ExpectedPDFs {
		if found[p] {
			qr.FoundPDFs = append(qr.FoundPDFs, p)
		} else {
			qr.MissingPDFs = append(qr.MissingPDFs, p)
		}
	}

	qr.FoundKeywords, qr.MissingKeywords = matchKeywords(texts, item.ExpectedKeywords)
	if len(item.ExpectedKeywords) > 0 {
		qr.KeywordCoverage = float64(len(qr.FoundKeywords)) / float64(len(item.ExpectedKeywords))
	}
	return qr
}

// matchKeywords checks each keyword case-insensitively as a substring of the
// concatenated hit texts.
func matchKeywords(texts, keywords []string) (found, missing []string) {
	joined := strings.ToLower(strings.Join(texts, " "))
	for _, kw := range keywords {
		if strings.Contains(joined, strings.ToLower(kw)) {
			found = append(found, kw)
		} else {
			missing = append(missing, kw)
		}
	}
	return found, missing
}

// PrecisionAtK is the share of retrieved entries that are relevant.
func PrecisionAtK(retrieved, relevant []string) float64 {
	if len(retrieved) == 0 {
		return 0
	}
	relevantSet := make(map[string]bool)
	for _, r := range relevant {
		relevantSet[r] = true
	}
	hits := 0
	for _, r := range retrieved {
		if relevantSet[r] {
			hits++
		}
	}
	return float64(hits) / float64(len(retrieved))
}

// RecallAtK is the share of distinct relevant entries that were retrieved.
// Repeated entries in retrieved count once.
func RecallAtK(retrieved, relevant []string) float64 {
	relevantSet := make(map[string]bool)
	for _, r := range relevant {
		relevantSet[r] = true
	}
	if len(relevantSet) == 0 {
		return 0
	}
	found := make(map[string]bool)
	for _, r := range retrieved {
		if relevantSet[r] {
			found[r] = true
		}
	}
	return float64(len(found)) / float64(len(relevantSet))
}

// ReciprocalRank is 1/rank of the first relevant entry, or 0.
func ReciprocalRank(retrieved, relevant []string) float64 {
	relevantSet := make(map[string]bool)
	for _, r := range relevant {
		relevantSet[r] = true
	}
	for i, r := range retrieved {
		if relevantSet[r] {
			return 1.0 / float64(i+1)
		}
	}
	return 0
}

func NDCG(scores, ideal []float64) float64 {
	dcg := calculateDCG(scores)
	idcg := calculateDCG(ideal)
	if idcg == 0 {
		return 0
	}
	return dcg / idcg
}

func calculateDCG(scores []float64) float64 {
	dcg := 0.0
	for i, score := range scores {
		dcg += score / math.Log2(float64(i+2))
	}
	return dcg
}

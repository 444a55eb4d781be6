package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"palicanon/internal/domain"
	"palicanon/internal/port"
)

// RetrieveUseCase plans a free-text question and runs it through a retriever.
type RetrieveUseCase struct {
	planner   port.Planner
	retriever port.Retriever
	logger    *slog.Logger
}

func NewRetrieveUseCase(planner port.Planner, retriever port.Retriever, logger *slog.Logger) *RetrieveUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrieveUseCase{
		planner:   planner,
		retriever: retriever,
		logger:    logger,
	}
}

// Query is the outcome of one retrieval: the plan that was searched and
// the result.
type Query struct {
	Plan   domain.QueryPlan `json:"plan"`
	Result domain.Result    `json:"result"`
}

// Plan runs only the planner.
func (u *RetrieveUseCase) Plan(question string) domain.QueryPlan {
	return u.planner.Plan(question)
}

// Retrieve plans question, replaces the planner's constraints with any
// non-empty override, and retrieves up to k hits.
func (u *RetrieveUseCase) Retrieve(ctx context.Context, question string, k int, override domain.Constraints) (*Query, error) {
	plan := u.planner.Plan(question)
	if override.Basket != domain.BasketNone {
		plan.Constraints.Basket = override.Basket
	}
	if override.Nikaya != domain.NikayaNone {
		plan.Constraints.Nikaya = override.Nikaya
		if plan.Constraints.Basket == domain.BasketNone {
			plan.Constraints.Basket = domain.BasketSutta
		}
	}

	result, err := u.retriever.Retrieve(ctx, plan, k)
	if err != nil {
		return nil, fmt.Errorf("retrieve %q: %w", question, err)
	}

	u.logger.Debug("retrieved",
		"query", question,
		"hits", len(result.Hits),
		"phase", result.Phase.String(),
		"broadened", result.Broadened)
	return &Query{Plan: plan, Result: result}, nil
}

package port

import (
	"context"

	"palicanon/internal/domain"
)

// Retriever answers a query plan with ranked, deduplicated hits.
type Retriever interface {
	Retrieve(ctx context.Context, plan domain.QueryPlan, k int) (domain.Result, error)
}

// Planner turns a free-text question into a QueryPlan.
type Planner interface {
	Plan(query string) domain.QueryPlan
}

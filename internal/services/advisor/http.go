// Package advisor implements the pre-trade go/no-go check.
package advisor

import (
	"context"
	"fmt"
	"strings"

	"SweepTrader/internal/domain/models"
	"SweepTrader/internal/services/upstream"
)

const declineToken = "NO-TRADE"

type decideResponse struct {
	Proceed   *bool  `json:"proceed"`
	Rationale string `json:"rationale"`
}

// HTTPAdvisor posts the trade snapshot to an external decision endpoint.
type HTTPAdvisor struct {
	*upstream.HTTPServiceBase
}

func NewHTTPAdvisor(base *upstream.HTTPServiceBase) *HTTPAdvisor {
	return &HTTPAdvisor{HTTPServiceBase: base}
}

// Decide declines when the reply says proceed=false or the rationale carries
// the NO-TRADE token. A reply without an explicit decision is an error.
func (a *HTTPAdvisor) Decide(ctx context.Context, snapshot models.TradeSnapshot) (models.Advice, error) {
	var resp decideResponse
	if err := a.PostJSON(ctx, "/decide", snapshot, &resp); err != nil {
		return models.Advice{}, err
	}

	rationale := strings.TrimSpace(resp.Rationale)
	declined := strings.Contains(strings.ToUpper(rationale), declineToken)
	if resp.Proceed == nil && !declined {
		return models.Advice{}, fmt.Errorf("advisor reply has no decision")
	}

	proceed := !declined
	if resp.Proceed != nil {
		proceed = *resp.Proceed && !declined
	}
	return models.Advice{Proceed: proceed, Rationale: rationale, Source: models.AdviceModel}, nil
}

// Noop approves everything; used when the advisor is disabled.
type Noop struct{}

func (Noop) Decide(context.Context, models.TradeSnapshot) (models.Advice, error) {
	return models.Advice{Proceed: true, Rationale: "advisor disabled", Source: models.AdviceNoop}, nil
}

package inference

import (
	"errors"
	"strings"

	"mcp-food-lens/internal/analysis"
	"mcp-food-lens/internal/models"
)

type directive int

const (
	directiveRetry directive = iota
	directiveNextModel
	directiveDone
)

func (d directive) String() string {
	switch d {
	case directiveRetry:
		return "retry"
	case directiveNextModel:
		return "next_model"
	case directiveDone:
		return "done"
	default:
		return "unknown"
	}
}

// attempt is what one request to one model produced: either a request
// error or the payload text of a successful response.
type attempt struct {
	err  error
	text string
}

type decision struct {
	directive directive
	outcome   models.AnalysisOutcome
	err       error
	backoff   bool
}

var errEmptyPayload = errors.New("empty response from model")

// classify maps one attempt onto the fallback state machine. It performs
// no I/O; the caller owns the model and attempt loops.
func classify(a attempt) decision {
	if a.err != nil {
		if IsFatal(a.err) {
			return decision{directive: directiveNextModel, err: a.err}
		}
		return decision{directive: directiveRetry, err: a.err, backoff: IsRateLimited(a.err)}
	}

	if strings.TrimSpace(a.text) == "" {
		return decision{directive: directiveRetry, err: errEmptyPayload}
	}

	outcome := analysis.Parse(a.text)
	if outcome.Final() {
		return decision{directive: directiveDone, outcome: outcome}
	}
	return decision{directive: directiveRetry, err: errors.New(outcome.Message)}
}

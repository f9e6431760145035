package market

import "fmt"

// Violation describes a failed invariant audit check.
type Violation struct {
	Token  TokenID
	Rule   string
	Detail string
}

func (v Violation) String() string {
	return fmt.Sprintf("token %d: %s: %s", v.Token, v.Rule, v.Detail)
}

// Invariants audits the registry and returns every violation found. A
// healthy engine returns an empty slice after any sequence of operations:
// every token sits at stage 1 or above, its current metadata matches its
// stage entry, its price slot exists, and the ledger knows its owner.
func (e *Engine) Invariants() []Violation {
	var out []Violation
	for _, id := range e.Tokens() {
		stage := e.stages[id]
		if stage < 1 {
			out = append(out, Violation{id, "stage-floor", fmt.Sprintf("stage %d below 1", stage)})
		}
		current, ok := e.current[id]
		if !ok {
			out = append(out, Violation{id, "current-metadata", "no current metadata recorded"})
		}
		sm, ok := e.stageMeta[id]
		if !ok {
			out = append(out, Violation{id, "stage-metadata", "no stage metadata recorded"})
		} else if meta, ok := sm[stage]; !ok {
			out = append(out, Violation{id, "stage-metadata", fmt.Sprintf("stage %d has no metadata entry", stage)})
		} else if meta != current {
			out = append(out, Violation{id, "stage-metadata", fmt.Sprintf("stage %d entry %q differs from current %q", stage, meta, current)})
		}
		if e.prices[id] == nil {
			out = append(out, Violation{id, "listing-price", "no price slot recorded"})
		}
		if owner, err := e.ledger.OwnerOf(id); err != nil {
			out = append(out, Violation{id, "owner", fmt.Sprintf("ledger has no owner: %v", err)})
		} else if owner == "" {
			out = append(out, Violation{id, "owner", "ledger returned an empty owner"})
		}
	}
	for id := range e.current {
		if _, ok := e.stages[id]; !ok {
			out = append(out, Violation{id, "registry", "current metadata for unregistered token"})
		}
	}
	for id := range e.prices {
		if _, ok := e.stages[id]; !ok {
			out = append(out, Violation{id, "registry", "price slot for unregistered token"})
		}
	}
	for id := range e.stageMeta {
		if _, ok := e.stages[id]; !ok {
			out = append(out, Violation{id, "registry", "stage metadata for unregistered token"})
		}
	}
	return out
}

// Check runs the invariant audit and reports the first violation as an
// error, for callers that want a pass/fail answer.
func (e *Engine) Check() error {
	violations := e.Invariants()
	if len(violations) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvariantViolated, violations[0])
}

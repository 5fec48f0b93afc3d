package domain

// Phase is a step of target-token acquisition.
type Phase int

const (
	// PhaseSellOverride sells the caller-supplied stablecoin amount.
	PhaseSellOverride Phase = iota
	// PhaseBuyExact buys the target amount exactly on the preferred provider.
	PhaseBuyExact
	// PhaseSellEstimated sells an estimated, buffered stablecoin amount.
	PhaseSellEstimated
	// PhaseChunked sells the target in sequential chunks.
	PhaseChunked
	// PhaseTopUp sells once more for the remaining shortfall.
	PhaseTopUp
	// PhaseSufficient: the running total covers the target.
	PhaseSufficient
	// PhaseExhausted: every strategy ran and the target was not reached.
	PhaseExhausted
)

var phaseNames = map[Phase]string{
	PhaseSellOverride:  "sell_override",
	PhaseBuyExact:      "buy_exact",
	PhaseSellEstimated: "sell_estimated",
	PhaseChunked:       "chunked",
	PhaseTopUp:         "top_up",
	PhaseSufficient:    "sufficient",
	PhaseExhausted:     "exhausted",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return "unknown"
}

// Terminal reports whether acquisition is over.
func (p Phase) Terminal() bool {
	return p == PhaseSufficient || p == PhaseExhausted
}

// StartPhase picks the first phase for a request.
func StartPhase(hasOverride, startsChunked bool) Phase {
	switch {
	case hasOverride:
		return PhaseSellOverride
	case startsChunked:
		return PhaseChunked
	default:
		return PhaseBuyExact
	}
}

// PhaseResult is what the orchestrator observed after running a phase.
type PhaseResult struct {
	// Swapped is true when the phase completed at least one swap.
	Swapped bool
	// Sufficient is true when the running total reached the target.
	Sufficient bool
}

// NextPhase is the acquisition transition function.
//
// A single-shot phase that swapped but fell short goes straight to the top-up,
// never to another acquisition path. The top-up runs at most once.
func NextPhase(p Phase, r PhaseResult) Phase {
	if p.Terminal() {
		return p
	}
	if r.Sufficient {
		return PhaseSufficient
	}

	switch p {
	case PhaseSellOverride, PhaseBuyExact:
		if r.Swapped {
			return PhaseTopUp
		}
		return PhaseSellEstimated
	case PhaseSellEstimated:
		if r.Swapped {
			return PhaseTopUp
		}
		return PhaseChunked
	case PhaseChunked:
		return PhaseTopUp
	default:
		return PhaseExhausted
	}
}

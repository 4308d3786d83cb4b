package domain

// ResolutionMethod records which stage of the resolver produced a match.
type ResolutionMethod string

const (
	// MethodAlias covers both declared names and previously learned
	// shortcuts; after a fuzzy match is learned, repeat resolutions of the
	// same text report alias, not fuzzy.
	MethodAlias       ResolutionMethod = "alias"
	MethodFuzzy       ResolutionMethod = "fuzzy"
	MethodCoreference ResolutionMethod = "coreference"
	MethodLazyCreate  ResolutionMethod = "lazy_create"
)

// ResolutionOutcome tags a Resolution as a match or an explicit no-match.
// "No match" is an expected result, not an error; capability failures are
// returned as errors alongside.
type ResolutionOutcome string

const (
	OutcomeResolved ResolutionOutcome = "resolved"
	OutcomeNoMatch  ResolutionOutcome = "no_match"
)

// Resolution is the provenance-carrying result of resolving one mention.
type Resolution struct {
	Outcome       ResolutionOutcome `json:"outcome"`
	Mention       string            `json:"mention"`
	Entity        *CanonicalEntity  `json:"entity,omitempty"`
	CanonicalName string            `json:"canonical_name,omitempty"`
	Method        ResolutionMethod  `json:"method,omitempty"`
	Confidence    float32           `json:"confidence,omitempty"`
	Implicit      bool              `json:"implicit"`
	Reason        string            `json:"reason,omitempty"`
}

func (r *Resolution) Resolved() bool {
	return r.Outcome == OutcomeResolved
}

// NoMatch builds the tagged failure outcome for a mention.
func NoMatch(mention, reason string) *Resolution {
	return &Resolution{
		Outcome: OutcomeNoMatch,
		Mention: mention,
		Reason:  reason,
	}
}

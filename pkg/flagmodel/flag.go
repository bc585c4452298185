package flagmodel

import "github.com/flagkit/evalsdk/pkg/ldvalue"

// Kind discriminates which collection an item belongs to in the data
// store; flags and segments are stored under separate kinds so a key
// collision between a flag and a segment is never possible.
type Kind string

const (
	KindFlags    Kind = "flags"
	KindSegments Kind = "segments"
)

// Op is the closed set of clause operators.
type Op string

const (
	OpIn                     Op = "in"
	OpEndsWith               Op = "endsWith"
	OpStartsWith             Op = "startsWith"
	OpMatches                Op = "matches"
	OpContains               Op = "contains"
	OpLessThan               Op = "lessThan"
	OpLessThanOrEqual        Op = "lessThanOrEqual"
	OpGreaterThan            Op = "greaterThan"
	OpGreaterThanOrEqual     Op = "greaterThanOrEqual"
	OpBefore                 Op = "before"
	OpAfter                  Op = "after"
	OpSemVerEqual            Op = "semVerEqual"
	OpSemVerLessThan         Op = "semVerLessThan"
	OpSemVerGreaterThan      Op = "semVerGreaterThan"
	OpSegmentMatch           Op = "segmentMatch"
)

// RolloutKind discriminates a plain rollout from an experiment rollout;
// experiment rollouts exclude certain buckets from the "in experiment"
// reason marker (see resolveVariationOrRollout in pkg/eval).
type RolloutKind string

const (
	RolloutKindRollout    RolloutKind = "rollout"
	RolloutKindExperiment RolloutKind = "experiment"
)

// WeightedVariation is one entry of a Rollout's variation table.
type WeightedVariation struct {
	Variation int  `json:"variation"`
	Weight    int  `json:"weight"`
	Untracked bool `json:"untracked,omitempty"`
}

// Rollout assigns a user to one of several variations by deterministic
// percentage bucketing. Weights are non-negative integers that should
// sum to 100000; the last bucket absorbs any rounding remainder.
type Rollout struct {
	BucketBy   string              `json:"bucketBy,omitempty"`
	Variations []WeightedVariation `json:"variations"`
	Kind       RolloutKind         `json:"kind,omitempty"`
}

// VariationOrRollout is exactly one of a concrete variation index or a
// probabilistic Rollout.
type VariationOrRollout struct {
	Variation *int     `json:"variation,omitempty"`
	Rollout   *Rollout `json:"rollout,omitempty"`
}

// IsRollout reports whether this resolves via bucketing rather than a
// fixed index.
func (vr VariationOrRollout) IsRollout() bool {
	return vr.Variation == nil && vr.Rollout != nil
}

// Clause is a single typed comparison against a user attribute, or
// (when Op is segmentMatch) against segment membership.
type Clause struct {
	Attribute string          `json:"attribute"`
	Op        Op              `json:"op"`
	Values    []ldvalue.Value `json:"values"`
	Negate    bool            `json:"negate,omitempty"`
}

// Rule is an ordered set of clauses that must all match, paired with the
// variation or rollout to apply when they do.
type Rule struct {
	ID          string `json:"id,omitempty"`
	Clauses     []Clause `json:"clauses"`
	VariationOrRollout
	TrackEvents bool `json:"trackEvents,omitempty"`
}

// Target is a flat list of user keys mapped to a concrete variation,
// evaluated before rules.
type Target struct {
	Variation int      `json:"variation"`
	Values    []string `json:"values"`
}

// Prerequisite is a dependency edge: the owning flag only proceeds past
// this check if the flag named Key evaluates to Variation.
type Prerequisite struct {
	Key       string `json:"key"`
	Variation int    `json:"variation"`
}

// Flag is an immutable, versioned description of a feature flag.
type Flag struct {
	Key                    string   `json:"key"`
	Version                int      `json:"version"`
	On                     bool     `json:"on"`
	Variations             []ldvalue.Value `json:"variations"`
	Fallthrough            VariationOrRollout `json:"fallthrough"`
	OffVariation           *int     `json:"offVariation,omitempty"`
	Targets                []Target `json:"targets,omitempty"`
	Rules                  []Rule   `json:"rules,omitempty"`
	Prerequisites          []Prerequisite `json:"prerequisites,omitempty"`
	Salt                   string   `json:"salt"`
	TrackEvents            bool     `json:"trackEvents,omitempty"`
	TrackEventsFallthrough bool     `json:"trackEventsFallthrough,omitempty"`
	DebugEventsUntilDate   *int64   `json:"debugEventsUntilDate,omitempty"`
	Deleted                bool     `json:"deleted,omitempty"`
	// ClientSide reports whether this flag is allowed to be served to a
	// client-side SDK (one whose requests are scoped to a single user by
	// an environment/mobile key rather than server credentials). It
	// drives AllFlagsOptions.ClientSideOnly in pkg/eval's AllFlagsState.
	ClientSide bool `json:"clientSide,omitempty"`
}

// VariationValue returns the Value at index i, or Null with ok=false if
// out of range. Index -1 (as used for "no off variation") is never valid.
func (f *Flag) VariationValue(i int) (ldvalue.Value, bool) {
	if i < 0 || i >= len(f.Variations) {
		return ldvalue.Null, false
	}
	return f.Variations[i], true
}

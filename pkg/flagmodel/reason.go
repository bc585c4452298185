package flagmodel

// ReasonKind is the closed set of evaluation-reason variants. Serialized
// forms are bit-exact SCREAMING_SNAKE_CASE identifiers consumed by
// downstream analytics.
type ReasonKind string

const (
	ReasonOff                 ReasonKind = "OFF"
	ReasonFallthrough         ReasonKind = "FALLTHROUGH"
	ReasonTargetMatch         ReasonKind = "TARGET_MATCH"
	ReasonRuleMatch           ReasonKind = "RULE_MATCH"
	ReasonPrerequisiteFailed  ReasonKind = "PREREQUISITE_FAILED"
	ReasonError               ReasonKind = "ERROR"
)

// ErrorKind enumerates the ERROR reason's payload.
type ErrorKind string

const (
	ErrorClientNotReady   ErrorKind = "CLIENT_NOT_READY"
	ErrorUserNotSpecified ErrorKind = "USER_NOT_SPECIFIED"
	ErrorFlagNotFound     ErrorKind = "FLAG_NOT_FOUND"
	ErrorMalformedFlag    ErrorKind = "MALFORMED_FLAG"
	ErrorWrongType        ErrorKind = "WRONG_TYPE"
	ErrorException        ErrorKind = "EXCEPTION"
)

// Reason explains why an evaluation produced the result it did. Only the
// fields relevant to Kind are populated; it is a tagged variant, not an
// open hierarchy.
type Reason struct {
	Kind ReasonKind `json:"kind"`

	// RULE_MATCH. RuleIndex is a pointer so rule 0 still serializes as
	// ruleIndex:0 instead of being dropped by omitempty.
	RuleIndex *int   `json:"ruleIndex,omitempty"`
	RuleID    string `json:"ruleId,omitempty"`

	// FALLTHROUGH / RULE_MATCH, when the resolved VariationOrRollout was
	// an experiment-kind rollout.
	InExperiment bool `json:"inExperiment,omitempty"`

	// PREREQUISITE_FAILED
	PrerequisiteKey string `json:"prerequisiteKey,omitempty"`

	// ERROR
	ErrorKind ErrorKind `json:"errorKind,omitempty"`
}

func Off() Reason { return Reason{Kind: ReasonOff} }

func Fallthrough(inExperiment bool) Reason {
	return Reason{Kind: ReasonFallthrough, InExperiment: inExperiment}
}

func TargetMatch() Reason { return Reason{Kind: ReasonTargetMatch} }

func RuleMatch(index int, ruleID string, inExperiment bool) Reason {
	return Reason{Kind: ReasonRuleMatch, RuleIndex: &index, RuleID: ruleID, InExperiment: inExperiment}
}

func PrerequisiteFailed(key string) Reason {
	return Reason{Kind: ReasonPrerequisiteFailed, PrerequisiteKey: key}
}

func Error(kind ErrorKind) Reason {
	return Reason{Kind: ReasonError, ErrorKind: kind}
}

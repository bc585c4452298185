// Package eval implements the pure (flag, user, store) -> (value, reason)
// evaluation engine: prerequisite chains, targets, rule clauses,
// segment membership, and percentage rollouts. Evaluate never performs
// I/O and is safe to call from arbitrarily many goroutines concurrently;
// all the state it touches is either immutable (the flag/segment data)
// or supplied fresh per call (the path-local cycle-guard sets).
package eval

import (
	"github.com/flagkit/evalsdk/pkg/bucketing"
	"github.com/flagkit/evalsdk/pkg/flagmodel"
	"github.com/flagkit/evalsdk/pkg/ldvalue"
	"github.com/flagkit/evalsdk/pkg/logger"
	"github.com/flagkit/evalsdk/pkg/operators"
	"github.com/flagkit/evalsdk/pkg/store"
)

// Result is the outcome of evaluating one flag.
type Result struct {
	Value          ldvalue.Value
	VariationIndex *int
	Reason         flagmodel.Reason
}

// PrerequisiteEvent records the full result of evaluating one
// prerequisite flag, in the order those evaluations happened — always
// before the event for the flag that depended on them.
type PrerequisiteEvent struct {
	FlagKey string
	Result  Result
}

// Evaluator reads flags and segments from a store.Reader. It holds no
// other mutable state.
type Evaluator struct {
	reader store.Reader
	log    *logger.Logger
}

func NewEvaluator(reader store.Reader, log *logger.Logger) *Evaluator {
	return &Evaluator{reader: reader, log: log}
}

// Evaluate resolves flagKey against user, returning its result and the
// prerequisite evaluations performed along the way.
func (e *Evaluator) Evaluate(flagKey string, user *flagmodel.User) (Result, []PrerequisiteEvent) {
	if !e.reader.Initialized() {
		return Result{Value: ldvalue.Null, Reason: flagmodel.Error(flagmodel.ErrorClientNotReady)}, nil
	}
	desc, ok := e.reader.Get(flagmodel.KindFlags, flagKey)
	if !ok || desc.Item.IsTombstone() {
		return Result{Value: ldvalue.Null, Reason: flagmodel.Error(flagmodel.ErrorFlagNotFound)}, nil
	}
	flag, _ := desc.Item.Flag()
	return e.evaluateFlag(flag, user, map[string]bool{}, map[string]bool{})
}

func (e *Evaluator) evaluateFlag(
	flag *flagmodel.Flag,
	user *flagmodel.User,
	visitedPrereqs map[string]bool,
	visitedSegments map[string]bool,
) (Result, []PrerequisiteEvent) {
	if user == nil || user.Key == "" {
		return Result{Value: ldvalue.Null, Reason: flagmodel.Error(flagmodel.ErrorUserNotSpecified)}, nil
	}

	if !flag.On {
		v, idx := offResult(flag)
		return Result{Value: v, VariationIndex: idx, Reason: flagmodel.Off()}, nil
	}

	var events []PrerequisiteEvent
	for _, p := range flag.Prerequisites {
		desc, found := e.reader.Get(flagmodel.KindFlags, p.Key)
		if !found || desc.Item.IsTombstone() {
			v, idx := offResult(flag)
			return Result{Value: v, VariationIndex: idx, Reason: flagmodel.PrerequisiteFailed(p.Key)}, events
		}
		prereqFlag, _ := desc.Item.Flag()

		if visitedPrereqs[p.Key] {
			v, idx := offResult(flag)
			return Result{Value: v, VariationIndex: idx, Reason: flagmodel.PrerequisiteFailed(p.Key)}, events
		}
		visitedPrereqs[p.Key] = true
		subResult, subEvents := e.evaluateFlag(prereqFlag, user, visitedPrereqs, visitedSegments)
		delete(visitedPrereqs, p.Key)

		events = append(events, subEvents...)
		events = append(events, PrerequisiteEvent{FlagKey: p.Key, Result: subResult})

		switch {
		case subResult.Reason.Kind == flagmodel.ReasonError:
			v, idx := offResult(flag)
			return Result{Value: v, VariationIndex: idx, Reason: flagmodel.PrerequisiteFailed(p.Key)}, events
		case subResult.VariationIndex == nil || *subResult.VariationIndex != p.Variation:
			v, idx := offResult(flag)
			return Result{Value: v, VariationIndex: idx, Reason: flagmodel.PrerequisiteFailed(p.Key)}, events
		}
	}

	for _, t := range flag.Targets {
		for _, k := range t.Values {
			if k == user.Key {
				val, valOk := flag.VariationValue(t.Variation)
				if !valOk {
					return Result{Value: ldvalue.Null, Reason: flagmodel.Error(flagmodel.ErrorMalformedFlag)}, events
				}
				idx := t.Variation
				return Result{Value: val, VariationIndex: &idx, Reason: flagmodel.TargetMatch()}, events
			}
		}
	}

	for i, rule := range flag.Rules {
		if !e.allClausesMatch(rule.Clauses, user, visitedSegments) {
			continue
		}
		idx, inExperiment, ok := e.resolveVariationOrRollout(rule.VariationOrRollout, flag.Key, flag.Salt, user)
		if !ok {
			return Result{Value: ldvalue.Null, Reason: flagmodel.Error(flagmodel.ErrorMalformedFlag)}, events
		}
		val, valOk := flag.VariationValue(idx)
		if !valOk {
			return Result{Value: ldvalue.Null, Reason: flagmodel.Error(flagmodel.ErrorMalformedFlag)}, events
		}
		return Result{Value: val, VariationIndex: &idx, Reason: flagmodel.RuleMatch(i, rule.ID, inExperiment)}, events
	}

	idx, inExperiment, ok := e.resolveVariationOrRollout(flag.Fallthrough, flag.Key, flag.Salt, user)
	if !ok {
		return Result{Value: ldvalue.Null, Reason: flagmodel.Error(flagmodel.ErrorMalformedFlag)}, events
	}
	val, valOk := flag.VariationValue(idx)
	if !valOk {
		return Result{Value: ldvalue.Null, Reason: flagmodel.Error(flagmodel.ErrorMalformedFlag)}, events
	}
	return Result{Value: val, VariationIndex: &idx, Reason: flagmodel.Fallthrough(inExperiment)}, events
}

func offResult(flag *flagmodel.Flag) (ldvalue.Value, *int) {
	if flag.OffVariation == nil {
		return ldvalue.Null, nil
	}
	v, ok := flag.VariationValue(*flag.OffVariation)
	if !ok {
		return ldvalue.Null, nil
	}
	idx := *flag.OffVariation
	return v, &idx
}

func (e *Evaluator) allClausesMatch(clauses []flagmodel.Clause, user *flagmodel.User, visitedSegments map[string]bool) bool {
	for _, c := range clauses {
		if !e.matchClause(c, user, visitedSegments) {
			return false
		}
	}
	return true
}

func (e *Evaluator) matchClause(c flagmodel.Clause, user *flagmodel.User, visitedSegments map[string]bool) bool {
	var matched bool
	if c.Op == flagmodel.OpSegmentMatch {
		for _, v := range c.Values {
			segKey, ok := v.StringValue()
			if !ok {
				continue
			}
			if e.isUserInSegment(segKey, user, visitedSegments) {
				matched = true
				break
			}
		}
	} else {
		attrVal, found := user.Attribute(c.Attribute)
		if found {
			if arr, isArray := attrVal.ArrayValue(); isArray {
				matched = matchAny(arr, c.Values, c.Op)
			} else {
				matched = matchAny([]ldvalue.Value{attrVal}, c.Values, c.Op)
			}
		}
	}
	if c.Negate {
		matched = !matched
	}
	return matched
}

func matchAny(userValues, clauseValues []ldvalue.Value, op flagmodel.Op) bool {
	for _, uv := range userValues {
		for _, cv := range clauseValues {
			if operators.Match(op, uv, cv) {
				return true
			}
		}
	}
	return false
}

// isUserInSegment walks included/excluded lists then segment rules.
// visited guards the current DFS path only (not a global memo), so a
// cycle among segment references evaluates to non-match without
// preventing a legitimate diamond reference from matching via another
// path.
func (e *Evaluator) isUserInSegment(segKey string, user *flagmodel.User, visited map[string]bool) bool {
	if visited[segKey] {
		return false
	}
	visited[segKey] = true
	defer delete(visited, segKey)

	desc, ok := e.reader.Get(flagmodel.KindSegments, segKey)
	if !ok || desc.Item.IsTombstone() {
		return false
	}
	seg, _ := desc.Item.Segment()

	if containsString(seg.Included, user.Key) {
		return true
	}
	if containsString(seg.Excluded, user.Key) {
		return false
	}
	for _, rule := range seg.Rules {
		if !e.allClausesMatch(rule.Clauses, user, visited) {
			continue
		}
		if rule.Weight == nil {
			return true
		}
		bucketByAttr := rule.BucketBy
		if bucketByAttr == "" {
			bucketByAttr = "key"
		}
		var bucket float64
		if attrVal, found := user.Attribute(bucketByAttr); found {
			if s, ok2 := operators.CoerceBucketString(attrVal); ok2 {
				bucket = bucketing.Bucket(seg.Key, seg.Salt, s, user.Secondary)
			}
		}
		if bucket < float64(*rule.Weight)/100000.0 {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// resolveVariationOrRollout returns the chosen variation index and
// whether the rollout that produced it was an experiment bucket the
// user should be counted "in experiment" for.
func (e *Evaluator) resolveVariationOrRollout(
	vr flagmodel.VariationOrRollout,
	key, salt string,
	user *flagmodel.User,
) (variation int, inExperiment bool, ok bool) {
	if vr.Variation != nil {
		return *vr.Variation, false, true
	}
	if vr.Rollout == nil || len(vr.Rollout.Variations) == 0 {
		return 0, false, false
	}
	ro := vr.Rollout

	bucketByAttr := ro.BucketBy
	if bucketByAttr == "" {
		bucketByAttr = "key"
	}
	var bucket float64
	if user != nil {
		if attrVal, found := user.Attribute(bucketByAttr); found {
			if s, ok2 := operators.CoerceBucketString(attrVal); ok2 {
				bucket = bucketing.Bucket(key, salt, s, user.Secondary)
			}
		}
	}

	weights := make([]int, len(ro.Variations))
	for i, wv := range ro.Variations {
		weights[i] = wv.Weight
	}
	idx := bucketing.VariationForBucket(bucket, weights)
	if idx < 0 || idx >= len(ro.Variations) {
		return 0, false, false
	}
	chosen := ro.Variations[idx]

	inExperiment = ro.Kind == flagmodel.RolloutKindExperiment && !chosen.Untracked
	return chosen.Variation, inExperiment, true
}

// Package operators implements the typed comparison primitives used by
// rule and segment-rule clauses. Every comparison here is total: type
// mismatches, malformed regexes, bad semver, and bad timestamps all
// evaluate to false rather than propagating an error, per spec.
package operators

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/flagkit/evalsdk/pkg/flagmodel"
	"github.com/flagkit/evalsdk/pkg/ldvalue"
)

// Match evaluates a single (userValue, clauseValue) pair against op. It
// never panics and never returns an error; unsupported type combinations
// simply evaluate to false.
func Match(op flagmodel.Op, userValue, clauseValue ldvalue.Value) bool {
	switch op {
	case flagmodel.OpIn:
		return userValue.Equal(clauseValue)
	case flagmodel.OpContains:
		return stringOp(userValue, clauseValue, strings.Contains)
	case flagmodel.OpStartsWith:
		return stringOp(userValue, clauseValue, strings.HasPrefix)
	case flagmodel.OpEndsWith:
		return stringOp(userValue, clauseValue, strings.HasSuffix)
	case flagmodel.OpMatches:
		return matchesOp(userValue, clauseValue)
	case flagmodel.OpLessThan:
		return numericOp(userValue, clauseValue, func(a, b float64) bool { return a < b })
	case flagmodel.OpLessThanOrEqual:
		return numericOp(userValue, clauseValue, func(a, b float64) bool { return a <= b })
	case flagmodel.OpGreaterThan:
		return numericOp(userValue, clauseValue, func(a, b float64) bool { return a > b })
	case flagmodel.OpGreaterThanOrEqual:
		return numericOp(userValue, clauseValue, func(a, b float64) bool { return a >= b })
	case flagmodel.OpBefore:
		return timeOp(userValue, clauseValue, func(a, b time.Time) bool { return a.Before(b) })
	case flagmodel.OpAfter:
		return timeOp(userValue, clauseValue, func(a, b time.Time) bool { return a.After(b) })
	case flagmodel.OpSemVerEqual:
		return semverOp(userValue, clauseValue, func(c int) bool { return c == 0 })
	case flagmodel.OpSemVerLessThan:
		return semverOp(userValue, clauseValue, func(c int) bool { return c < 0 })
	case flagmodel.OpSemVerGreaterThan:
		return semverOp(userValue, clauseValue, func(c int) bool { return c > 0 })
	default:
		return false
	}
}

func stringOp(a, b ldvalue.Value, f func(s, substr string) bool) bool {
	as, ok1 := a.StringValue()
	bs, ok2 := b.StringValue()
	if !ok1 || !ok2 {
		return false
	}
	return f(as, bs)
}

func matchesOp(userValue, pattern ldvalue.Value) bool {
	s, ok1 := userValue.StringValue()
	p, ok2 := pattern.StringValue()
	if !ok1 || !ok2 {
		return false
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func numericOp(a, b ldvalue.Value, cmp func(a, b float64) bool) bool {
	an, ok1 := a.NumberValue()
	bn, ok2 := b.NumberValue()
	if !ok1 || !ok2 {
		return false
	}
	return cmp(an, bn)
}

// parseInstant parses a Value as either an RFC3339 string or a
// milliseconds-since-epoch number, per spec §3/§4.5.
func parseInstant(v ldvalue.Value) (time.Time, bool) {
	if s, ok := v.StringValue(); ok {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	if n, ok := v.NumberValue(); ok {
		ms := int64(n)
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}

func timeOp(a, b ldvalue.Value, cmp func(a, b time.Time) bool) bool {
	at, ok1 := parseInstant(a)
	bt, ok2 := parseInstant(b)
	if !ok1 || !ok2 {
		return false
	}
	return cmp(at, bt)
}

// parseSemVer parses a Value's string as semver 2.0, with the relaxed
// rule that a missing minor or patch component is treated as 0 (e.g.
// "2" -> "2.0.0", "2.1" -> "2.1.0").
func parseSemVer(v ldvalue.Value) (*semver.Version, bool) {
	s, ok := v.StringValue()
	if !ok {
		return nil, false
	}
	parts := strings.SplitN(s, "-", 2)
	core := parts[0]
	segs := strings.Split(core, ".")
	for len(segs) < 3 {
		segs = append(segs, "0")
	}
	normalized := strings.Join(segs, ".")
	if len(parts) == 2 {
		normalized += "-" + parts[1]
	}
	ver, err := semver.NewVersion(normalized)
	if err != nil {
		return nil, false
	}
	return ver, true
}

func semverOp(a, b ldvalue.Value, satisfies func(cmp int) bool) bool {
	av, ok1 := parseSemVer(a)
	bv, ok2 := parseSemVer(b)
	if !ok1 || !ok2 {
		return false
	}
	return satisfies(av.Compare(bv))
}

// CoerceBucketString coerces a Value for use as a bucketing key: strings
// pass through, integers become their decimal string form; floats,
// booleans, null, arrays, and objects have no valid bucketing
// representation.
func CoerceBucketString(v ldvalue.Value) (string, bool) {
	if s, ok := v.StringValue(); ok {
		return s, true
	}
	if n, ok := v.NumberValue(); ok {
		if n == float64(int64(n)) {
			return strconv.FormatInt(int64(n), 10), true
		}
		return "", false
	}
	return "", false
}

package eval

import (
	"github.com/flagkit/evalsdk/pkg/flagmodel"
	"github.com/flagkit/evalsdk/pkg/ldvalue"
)

// ResolveBool evaluates flagKey and type-checks the result against bool,
// falling back to defaultValue with reason ERROR/WRONG_TYPE if the
// flag's variations are a different type.
func (e *Evaluator) ResolveBool(flagKey string, defaultValue bool, user *flagmodel.User) (bool, flagmodel.Reason) {
	res, _ := e.Evaluate(flagKey, user)
	if res.Reason.Kind == flagmodel.ReasonError {
		return defaultValue, res.Reason
	}
	if b, ok := res.Value.BoolValue(); ok {
		return b, res.Reason
	}
	if res.Value.IsNull() {
		return defaultValue, res.Reason
	}
	return defaultValue, flagmodel.Error(flagmodel.ErrorWrongType)
}

func (e *Evaluator) ResolveString(flagKey, defaultValue string, user *flagmodel.User) (string, flagmodel.Reason) {
	res, _ := e.Evaluate(flagKey, user)
	if res.Reason.Kind == flagmodel.ReasonError {
		return defaultValue, res.Reason
	}
	if s, ok := res.Value.StringValue(); ok {
		return s, res.Reason
	}
	if res.Value.IsNull() {
		return defaultValue, res.Reason
	}
	return defaultValue, flagmodel.Error(flagmodel.ErrorWrongType)
}

func (e *Evaluator) ResolveNumber(flagKey string, defaultValue float64, user *flagmodel.User) (float64, flagmodel.Reason) {
	res, _ := e.Evaluate(flagKey, user)
	if res.Reason.Kind == flagmodel.ReasonError {
		return defaultValue, res.Reason
	}
	if n, ok := res.Value.NumberValue(); ok {
		return n, res.Reason
	}
	if res.Value.IsNull() {
		return defaultValue, res.Reason
	}
	return defaultValue, flagmodel.Error(flagmodel.ErrorWrongType)
}

// ResolveJSON returns the raw Value with no type coercion, for callers
// that want the whole JSON-like structure (object or array variations).
func (e *Evaluator) ResolveJSON(flagKey string, defaultValue ldvalue.Value, user *flagmodel.User) (ldvalue.Value, flagmodel.Reason) {
	res, _ := e.Evaluate(flagKey, user)
	if res.Reason.Kind == flagmodel.ReasonError {
		return defaultValue, res.Reason
	}
	return res.Value, res.Reason
}

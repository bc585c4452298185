package flagmodel

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReasonConstructorsSetKind(t *testing.T) {
	assert.Equal(t, ReasonOff, Off().Kind)
	assert.Equal(t, ReasonTargetMatch, TargetMatch().Kind)

	ft := Fallthrough(true)
	assert.Equal(t, ReasonFallthrough, ft.Kind)
	assert.True(t, ft.InExperiment)

	rm := RuleMatch(2, "rule-id", false)
	assert.Equal(t, ReasonRuleMatch, rm.Kind)
	require.NotNil(t, rm.RuleIndex)
	assert.Equal(t, 2, *rm.RuleIndex)
	assert.Equal(t, "rule-id", rm.RuleID)

	pf := PrerequisiteFailed("parent")
	assert.Equal(t, ReasonPrerequisiteFailed, pf.Kind)
	assert.Equal(t, "parent", pf.PrerequisiteKey)

	errReason := Error(ErrorFlagNotFound)
	assert.Equal(t, ReasonError, errReason.Kind)
	assert.Equal(t, ErrorFlagNotFound, errReason.ErrorKind)
}

func TestReasonJSONOmitsIrrelevantFields(t *testing.T) {
	b, err := json.Marshal(Off())
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"OFF"}`, string(b))

	b, err = json.Marshal(RuleMatch(0, "r1", true))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"RULE_MATCH","ruleIndex":0,"ruleId":"r1","inExperiment":true}`, string(b))
}

package eval

import (
	"encoding/json"

	"github.com/flagkit/evalsdk/pkg/flagmodel"
	"github.com/flagkit/evalsdk/pkg/ldvalue"
)

// AllFlagsOptions controls what AllFlagsState includes in the snapshot.
type AllFlagsOptions struct {
	// IncludeReasons includes each flag's evaluation Reason in the
	// $flagsState envelope.
	IncludeReasons bool
	// DetailsOnlyForTrackedFlags omits variation/version/reason metadata
	// for flags that aren't being tracked (TrackEvents false and no
	// experiment rollout in play), to keep the snapshot small.
	DetailsOnlyForTrackedFlags bool
	// ClientSideOnly restricts the snapshot to flags with
	// Flag.ClientSide set, for building a client-bootstrap payload that
	// must not leak server-only flags.
	ClientSideOnly bool
}

// flagState is one flag's entry in the $flagsState map of an
// AllFlagsState snapshot.
type flagState struct {
	Variation            *int             `json:"variation,omitempty"`
	Version              int              `json:"version,omitempty"`
	Reason               *flagmodel.Reason `json:"reason,omitempty"`
	TrackEvents          bool             `json:"trackEvents,omitempty"`
	TrackReason          bool             `json:"trackReason,omitempty"`
	DebugEventsUntilDate *int64           `json:"debugEventsUntilDate,omitempty"`
}

// AllFlagsState is the public all-flags-state envelope described in
// spec §6: top-level flag-key -> value, plus $flagsState metadata and a
// $valid marker.
type AllFlagsState struct {
	Valid  bool
	values map[string]ldvalue.Value
	states map[string]flagState
}

func (s *AllFlagsState) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{}
	for k, v := range s.values {
		out[k] = v
	}
	out["$flagsState"] = s.states
	out["$valid"] = s.Valid
	return json.Marshal(out)
}

func (s *AllFlagsState) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.values = map[string]ldvalue.Value{}
	s.states = map[string]flagState{}
	for k, v := range raw {
		switch k {
		case "$valid":
			if err := json.Unmarshal(v, &s.Valid); err != nil {
				return err
			}
		case "$flagsState":
			if err := json.Unmarshal(v, &s.states); err != nil {
				return err
			}
		default:
			var val ldvalue.Value
			if err := json.Unmarshal(v, &val); err != nil {
				return err
			}
			s.values[k] = val
		}
	}
	return nil
}

// Value returns the evaluated value for a flag key in the snapshot.
func (s *AllFlagsState) Value(flagKey string) (ldvalue.Value, bool) {
	v, ok := s.values[flagKey]
	return v, ok
}

// AllFlagsState evaluates every non-deleted flag in the store against
// user and returns a snapshot. Failed prerequisites short-circuit the
// individual flag (it gets its off-variation and a PREREQUISITE_FAILED
// reason) but never abort the snapshot.
func (e *Evaluator) AllFlagsState(user *flagmodel.User, opts AllFlagsOptions) *AllFlagsState {
	snapshot := &AllFlagsState{
		values: map[string]ldvalue.Value{},
		states: map[string]flagState{},
	}
	if !e.reader.Initialized() {
		snapshot.Valid = false
		return snapshot
	}
	snapshot.Valid = true

	for key, desc := range e.reader.GetAll(flagmodel.KindFlags) {
		if desc.Item.IsTombstone() {
			continue
		}
		flag, _ := desc.Item.Flag()
		if flag.Deleted {
			continue
		}
		if opts.ClientSideOnly && !flag.ClientSide {
			continue
		}

		result, _ := e.evaluateFlag(flag, user, map[string]bool{}, map[string]bool{})

		tracked := flag.TrackEvents || result.Reason.InExperiment
		if opts.DetailsOnlyForTrackedFlags && !tracked {
			snapshot.values[key] = result.Value
			continue
		}

		snapshot.values[key] = result.Value
		st := flagState{
			Variation:            result.VariationIndex,
			Version:              flag.Version,
			TrackEvents:          flag.TrackEvents,
			TrackReason:          tracked,
			DebugEventsUntilDate: flag.DebugEventsUntilDate,
		}
		if opts.IncludeReasons {
			r := result.Reason
			st.Reason = &r
		}
		snapshot.states[key] = st
	}
	return snapshot
}

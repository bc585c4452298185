package flagmodel

// SegmentRule is a set of clauses that, if all match, makes the user a
// member of the owning segment — optionally gated by a secondary
// percentage filter (Weight).
type SegmentRule struct {
	ID       string   `json:"id,omitempty"`
	Clauses  []Clause `json:"clauses"`
	Weight   *int     `json:"weight,omitempty"`
	BucketBy string   `json:"bucketBy,omitempty"`
}

// Segment is a named, versioned collection of users, defined by explicit
// inclusion/exclusion lists plus rules.
type Segment struct {
	Key      string        `json:"key"`
	Version  int           `json:"version"`
	Included []string      `json:"included,omitempty"`
	Excluded []string      `json:"excluded,omitempty"`
	Salt     string        `json:"salt"`
	Rules    []SegmentRule `json:"rules,omitempty"`
	Deleted  bool          `json:"deleted,omitempty"`
}

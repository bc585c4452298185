package flagmodel

import "github.com/flagkit/evalsdk/pkg/ldvalue"

// User is an identified principal evaluated against flags and segments.
// Built-in attributes take precedence over same-named custom attributes.
type User struct {
	Key       string `json:"key"`
	Secondary string `json:"secondary,omitempty"`
	IP        string `json:"ip,omitempty"`
	Country   string `json:"country,omitempty"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
	Name      string `json:"name,omitempty"`
	Anonymous bool   `json:"anonymous,omitempty"`

	Custom map[string]ldvalue.Value `json:"custom,omitempty"`
}

var builtins = map[string]func(User) (ldvalue.Value, bool){
	"key":       func(u User) (ldvalue.Value, bool) { return ldvalue.String(u.Key), u.Key != "" },
	"secondary": func(u User) (ldvalue.Value, bool) { return ldvalue.String(u.Secondary), u.Secondary != "" },
	"ip":        func(u User) (ldvalue.Value, bool) { return ldvalue.String(u.IP), u.IP != "" },
	"country":   func(u User) (ldvalue.Value, bool) { return ldvalue.String(u.Country), u.Country != "" },
	"email":     func(u User) (ldvalue.Value, bool) { return ldvalue.String(u.Email), u.Email != "" },
	"firstName": func(u User) (ldvalue.Value, bool) { return ldvalue.String(u.FirstName), u.FirstName != "" },
	"lastName":  func(u User) (ldvalue.Value, bool) { return ldvalue.String(u.LastName), u.LastName != "" },
	"avatar":    func(u User) (ldvalue.Value, bool) { return ldvalue.String(u.Avatar), u.Avatar != "" },
	"name":      func(u User) (ldvalue.Value, bool) { return ldvalue.String(u.Name), u.Name != "" },
	"anonymous": func(u User) (ldvalue.Value, bool) { return ldvalue.Bool(u.Anonymous), true },
}

// Attribute looks up an attribute by name, checking built-ins first and
// falling back to the custom attribute map. ok is false if the attribute
// is absent (built-in set to its zero value counts as absent, except for
// "anonymous" which is always present).
func (u User) Attribute(name string) (ldvalue.Value, bool) {
	if fn, isBuiltin := builtins[name]; isBuiltin {
		return fn(u)
	}
	v, ok := u.Custom[name]
	return v, ok
}

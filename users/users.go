package users

import (
	"encoding/json"
	"strings"
)

// User is the authenticated profile returned by the backend. Fields the core
// does not model are kept in Extra so they survive a cache round trip.
type User struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Avatar     string         `json:"avatar,omitempty"`
	Email      string         `json:"email,omitempty"`
	Mobile     string         `json:"mobile,omitempty"`
	Position   string         `json:"position,omitempty"`
	Department []string       `json:"department,omitempty"`
	Extra      map[string]any `json:"-"`
}

var knownFields = map[string]struct{}{
	"id": {}, "name": {}, "avatar": {}, "email": {}, "mobile": {}, "position": {}, "department": {},
}

type userAlias User

// UnmarshalJSON accepts "userid"/"userId" for the ID, as the vendor names it,
// and collects unknown fields into Extra.
func (u *User) UnmarshalJSON(data []byte) error {
	var alias userAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	for key, value := range raw {
		if _, ok := knownFields[key]; ok {
			continue
		}
		if alias.ID == "" && strings.EqualFold(key, "userid") {
			if id, ok := value.(string); ok {
				alias.ID = id
				continue
			}
		}
		if alias.Extra == nil {
			alias.Extra = make(map[string]any)
		}
		alias.Extra[key] = value
	}
	*u = User(alias)
	return nil
}

// MarshalJSON writes Extra alongside the known fields.
func (u User) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(userAlias(u))
	if err != nil || len(u.Extra) == 0 {
		return known, err
	}
	var fields map[string]any
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	merged := make(map[string]any, len(u.Extra)+len(fields))
	for key, value := range u.Extra {
		merged[key] = value
	}
	for key, value := range fields {
		merged[key] = value
	}
	return json.Marshal(merged)
}

// IsZero reports whether the profile carries no identity.
func (u *User) IsZero() bool {
	return u == nil || u.ID == ""
}

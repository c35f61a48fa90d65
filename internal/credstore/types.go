package credstore

import "encoding/json"

// Persisted entry names. Token and profile are separate entries and are
// read back independently.
const (
	KeyToken = "token"
	KeyUser  = "user"
)

// Profile is the serialized form of the logged-in user.
type Profile struct {
	ID       int64  `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// UnmarshalJSON reads the ID from user_id and falls back to id.
func (p *Profile) UnmarshalJSON(b []byte) error {
	var raw struct {
		UserID   *int64 `json:"user_id"`
		ID       *int64 `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
		Role     string `json:"role"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = Profile{Username: raw.Username, Email: raw.Email, Role: raw.Role}
	switch {
	case raw.UserID != nil:
		p.ID = *raw.UserID
	case raw.ID != nil:
		p.ID = *raw.ID
	}
	return nil
}

// Record is what Load found. The two entries are independent and may
// disagree; callers decide how to treat a partial record.
type Record struct {
	Token          string
	HasToken       bool
	Profile        Profile
	HasProfile     bool
	ProfileCorrupt bool
}

// Empty reports whether neither entry exists.
func (r Record) Empty() bool {
	return !r.HasToken && !r.HasProfile && !r.ProfileCorrupt
}

// Complete reports whether both entries exist and the profile parsed.
func (r Record) Complete() bool {
	return r.HasToken && r.HasProfile
}

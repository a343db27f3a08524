package model

// Identity is a connected user as seen by the relay. It exists only while the
// connection is joined to a room.
type Identity struct {
	Username    string `json:"username" validate:"required,max=64"`
	DisplayName string `json:"displayName,omitempty" validate:"max=128"`
	Room        string `json:"room,omitempty"`
	Year        string `json:"year,omitempty"`
	Branch      string `json:"branch,omitempty"`
}

// Snapshot captures the fields stored on a message at send time.
func (i Identity) Snapshot() Author {
	return Author{
		Username:    i.Username,
		DisplayName: i.DisplayName,
		Year:        i.Year,
		Branch:      i.Branch,
	}
}

// Label is what other users see in notices.
func (i Identity) Label() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.Username
}

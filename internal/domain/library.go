package domain

// Library is a named grouping of collection items on one device.
//
// LibraryID is local to the device that created it. Two devices holding
// "the same" shared library have different LibraryIDs and an identical
// SharedGroupID.
type Library struct {
	LibraryID     string  `json:"libraryId"`
	OwnerID       string  `json:"ownerId"`
	SharedGroupID *string `json:"sharedGroupId"`
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	Icon          string  `json:"icon,omitempty"`

	Timestamps
}

// IsShared reports whether the library participates in a shared group.
func (l *Library) IsShared() bool {
	return l.SharedGroupID != nil && *l.SharedGroupID != ""
}

// GroupID returns the shared group id, or "" for a private library.
func (l *Library) GroupID() string {
	if !l.IsShared() {
		return ""
	}
	return *l.SharedGroupID
}

// SharedLibrary summarises a shared library for peers and pickers.
type SharedLibrary struct {
	LibraryID     string `json:"libraryId"`
	SharedGroupID string `json:"sharedGroupId"`
	Name          string `json:"name"`
	ItemCount     int    `json:"itemCount"`
}

// GroupRef returns a pointer to a copy of groupID, or nil when it is empty.
func GroupRef(groupID string) *string {
	if groupID == "" {
		return nil
	}
	return &groupID
}

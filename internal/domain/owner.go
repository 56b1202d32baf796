package domain

// Owner is a local user profile. Owners travel with sync payloads so copies
// can be attributed to a display name on the receiving device.
type Owner struct {
	OwnerID     string `json:"ownerId" validate:"required"`
	DisplayName string `json:"displayName"`

	// PinSecretHash never leaves the device. See ForSync.
	PinSecretHash string `json:"pinSecretHash,omitempty"`

	Timestamps
}

// ForSync returns a copy safe to transmit to a peer.
func (o Owner) ForSync() Owner {
	o.PinSecretHash = ""
	return o
}

// HasPIN reports whether the owner protects their profile with a PIN.
func (o *Owner) HasPIN() bool {
	return o.PinSecretHash != ""
}

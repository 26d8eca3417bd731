package models

import "time"

// Slot is one of the two fixed participant positions within a couple namespace
type Slot string

const (
	SlotA Slot = "person1"
	SlotB Slot = "person2"
)

// Valid reports whether s names one of the two participant slots
func (s Slot) Valid() bool {
	return s == SlotA || s == SlotB
}

// Other returns the partner slot
func (s Slot) Other() Slot {
	if s == SlotA {
		return SlotB
	}
	return SlotA
}

// Credential represents an authenticated identity-provider session
type Credential struct {
	Identifier    string `json:"identifier"`
	UserID        string `json:"user_id,omitempty"`
	Authenticated bool   `json:"authenticated"`
}

// PinRecord is the persisted salted digest of the local PIN
type PinRecord struct {
	Hash string `json:"hash"`
}

// LockoutState is present only while PIN attempts are exhausted
type LockoutState struct {
	Until time.Time `json:"until"`
}

// Active reports whether the lockout is still in force at now
func (l *LockoutState) Active(now time.Time) bool {
	return l != nil && now.Before(l.Until)
}

// LocationRecord is the latest position published by one participant
type LocationRecord struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Timestamp int64   `json:"timestamp"`
	UpdatedAt string  `json:"updatedAt"`
	City      string  `json:"city,omitempty"`
}

// LocationPair holds the current records of both slots; absent slots are nil
type LocationPair struct {
	A *LocationRecord `json:"person1,omitempty"`
	B *LocationRecord `json:"person2,omitempty"`
}

// Get returns the record stored for a slot
func (p LocationPair) Get(slot Slot) *LocationRecord {
	if slot == SlotA {
		return p.A
	}
	return p.B
}

// Complete reports whether both slots hold a record
func (p LocationPair) Complete() bool {
	return p.A != nil && p.B != nil
}

// DistanceResult is the derived distance between the two latest records
type DistanceResult struct {
	Km float64 `json:"km"`
}

// Position is a single geolocation fix
type Position struct {
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	Accuracy   float64   `json:"accuracy"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Connectivity is the live connection state of the shared store
type Connectivity string

const (
	Connected    Connectivity = "connected"
	Disconnected Connectivity = "disconnected"
)

// AppSettings is the device-local application configuration
type AppSettings struct {
	Person1Name       string `json:"person1Name" yaml:"person1_name"`
	Person2Name       string `json:"person2Name" yaml:"person2_name"`
	CoupleID          string `json:"coupleId" yaml:"couple_id"`
	WhoAmI            Slot   `json:"whoAmI" yaml:"who_am_i"`
	RelationshipStart string `json:"relationshipStart,omitempty" yaml:"relationship_start"`
	NextMeetDate      string `json:"nextMeetDate,omitempty" yaml:"next_meet_date"`
}

// Name returns the display name configured for a slot
func (s AppSettings) Name(slot Slot) string {
	if slot == SlotA {
		return s.Person1Name
	}
	return s.Person2Name
}

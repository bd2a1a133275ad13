// Package storage holds the in-memory caches of flag definitions and
// segment memberships.
package storage

import "encoding/json"

// Split status values
const (
	StatusActive   = "ACTIVE"
	StatusArchived = "ARCHIVED"
)

// NoChangeNumber is the change number of an empty cache. Fetching with
// since=-1 returns every active definition.
const NoChangeNumber int64 = -1

// Split is a feature flag definition. Targeting conditions are kept opaque.
type Split struct {
	Name             string          `json:"name"`
	TrafficTypeName  string          `json:"trafficTypeName"`
	Status           string          `json:"status"`
	Killed           bool            `json:"killed"`
	DefaultTreatment string          `json:"defaultTreatment"`
	ChangeNumber     int64           `json:"changeNumber"`
	Conditions       json.RawMessage `json:"conditions,omitempty"`
}

// SplitChange is one page of flag definition changes between Since and Till.
type SplitChange struct {
	Splits []Split `json:"splits"`
	Since  int64   `json:"since"`
	Till   int64   `json:"till"`
}

// MySegments is the membership list of one user key.
type MySegments struct {
	Segments []SegmentRef `json:"mySegments"`
}

type SegmentRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// Names returns the segment names in order.
func (m MySegments) Names() []string {
	names := make([]string, 0, len(m.Segments))
	for _, s := range m.Segments {
		names = append(names, s.Name)
	}
	return names
}

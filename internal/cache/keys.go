package cache

import (
	"encoding/json"
	"fmt"
)

// Logical key naming is a pure function of entity id and, for
// parameterized queries, of a canonical representation of the
// parameters, so repeated identical queries always hit the same key.

const (
	profilePrefix     = "profile:"
	eventPrefix       = "event:"
	eventListPrefix   = "events:list:"
	eventNearbyPrefix = "events:nearby:"
)

// ProfileKey is the detail key for a user profile.
func ProfileKey(id string) string {
	return profilePrefix + id
}

// EventKey is the detail key for an event.
func EventKey(id string) string {
	return eventPrefix + id
}

// EventListKey is the key for a filtered event list query. Nil or empty
// filters map to the unfiltered list.
func EventListKey(filters map[string]any) string {
	return eventListPrefix + CanonicalParams(filters)
}

// NearbyEventsKey is the key for a nearby-by-coordinates query. Equal
// coordinates always produce the identical key; precision is capped so
// jittery GPS fixes of the same location still coincide.
func NearbyEventsKey(lat, lng, radiusKM float64) string {
	return fmt.Sprintf("%s%.4f:%.4f:%.1f", eventNearbyPrefix, lat, lng, radiusKM)
}

// CanonicalParams renders query parameters as a stable string. Map keys
// are serialized in sorted order by encoding/json, so equal parameter
// sets always produce equal strings. Empty parameters render as "all".
func CanonicalParams(params map[string]any) string {
	if len(params) == 0 {
		return "all"
	}
	raw, err := json.Marshal(params)
	if err != nil {
		// Unserializable params cannot cache stably; fall back to a key
		// that will simply never match.
		return fmt.Sprintf("unstable:%p", &params)
	}
	return string(raw)
}

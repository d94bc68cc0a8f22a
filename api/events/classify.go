package events

import "strings"

// Dispatch names that do not come from the key grammar.
const (
	// NameEvent fires for every classified record.
	NameEvent = "event"
	// NameConnected fires for client association events.
	NameConnected = "connected"
	// NameDisconnected fires for client disassociation events.
	NameDisconnected = "disconnected"
	// NameUnclassified fires for records whose key does not follow EVT_<GG>_<ACTION>.
	NameUnclassified = "unclassified"
)

const keyPrefix = "EVT_"

// RawEvent is one element of a frame's data array.
type RawEvent map[string]any

// Key returns the record's classification key, or "" when absent or not a string.
func (r RawEvent) Key() string {
	key, _ := r["key"].(string)
	return key
}

// String returns the string value of field, or "" when absent.
func (r RawEvent) String(field string) string {
	value, _ := r[field].(string)
	return value
}

// ClassifiedEvent is a record whose key follows EVT_<GG>_<ACTION>.
type ClassifiedEvent struct {
	// Category is the lower-cased two-letter group, e.g. "wu" for wireless users.
	Category string
	// Action is the lower-cased remainder, e.g. "connected".
	Action string
	// Key is the original classification key.
	Key string
	Raw RawEvent
}

// Name returns the structural dispatch name "<category>.<action>".
func (e ClassifiedEvent) Name() string {
	return e.Category + "." + e.Action
}

// aliases maps legacy client connect/disconnect keys to convenience names.
// WU/WG are wireless users and guests, LU/LG their wired counterparts.
var aliases = map[string]string{
	"EVT_WU_Connected":    NameConnected,
	"EVT_WG_Connected":    NameConnected,
	"EVT_LU_Connected":    NameConnected,
	"EVT_LG_Connected":    NameConnected,
	"EVT_WU_Disconnected": NameDisconnected,
	"EVT_WG_Disconnected": NameDisconnected,
	"EVT_LU_Disconnected": NameDisconnected,
	"EVT_LG_Disconnected": NameDisconnected,
}

// Classify splits raw's key into category and action. It reports false when
// the key is missing or does not match EVT_<two uppercase letters>_<action>.
func Classify(raw RawEvent) (ClassifiedEvent, bool) {
	key := raw.Key()

	rest, ok := strings.CutPrefix(key, keyPrefix)
	if !ok || len(rest) < 4 || !isUpper(rest[0]) || !isUpper(rest[1]) || rest[2] != '_' {
		return ClassifiedEvent{}, false
	}

	return ClassifiedEvent{
		Category: strings.ToLower(rest[:2]),
		Action:   strings.ToLower(rest[3:]),
		Key:      key,
		Raw:      raw,
	}, true
}

// Alias returns the convenience name for key, if it has one.
func Alias(key string) (string, bool) {
	name, ok := aliases[key]
	return name, ok
}

// Names returns the dispatch names for a classified event in firing order:
// the structural name, the alias if any, then NameEvent.
func Names(e ClassifiedEvent) []string {
	names := make([]string, 0, 3)
	names = append(names, e.Name())
	if alias, ok := Alias(e.Key); ok {
		names = append(names, alias)
	}
	return append(names, NameEvent)
}

// dispatchNames returns what a raw record fires: the classified names, or
// NameUnclassified for a keyed record that does not parse, or nothing.
func dispatchNames(raw RawEvent) []string {
	if classified, ok := Classify(raw); ok {
		return Names(classified)
	}
	if raw.Key() != "" {
		return []string{NameUnclassified}
	}
	return nil
}

func isUpper(b byte) bool {
	return b >= 'A' && b <= 'Z'
}

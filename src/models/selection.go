package models

import "sort"

// -----------------------------------------------------------------------------
// Selection: the user's in-progress booking intent
// -----------------------------------------------------------------------------

type MSelection struct {
	ServiceIDs []string `json:"service_ids"`
	Date       string   `json:"date"`
	QueueID    *string  `json:"queue_id"`
}

// MSelectionPatch is a partial update. Nil fields are left untouched.
// A QueueID pointing at "" clears the queue choice. A QueueID sent together
// with a new Date or ServiceIDs is not applied, since the queue list for the
// new context is not known yet; pick the queue in a follow-up patch.
type MSelectionPatch struct {
	ServiceIDs []string `json:"service_ids,omitempty"`
	Date       *string  `json:"date,omitempty"`
	QueueID    *string  `json:"queue_id,omitempty"`
}

// HasQueue reports whether a queue has been picked.
func (s MSelection) HasQueue() bool {
	return s.QueueID != nil && *s.QueueID != ""
}

// Complete reports whether the selection has enough context to derive options.
func (s MSelection) Complete() bool {
	return s.Date != "" && len(s.ServiceIDs) > 0
}

// Clone returns a copy that shares no memory with s.
func (s MSelection) Clone() MSelection {
	out := MSelection{Date: s.Date}
	if s.ServiceIDs != nil {
		out.ServiceIDs = append([]string(nil), s.ServiceIDs...)
	}
	if s.QueueID != nil {
		id := *s.QueueID
		out.QueueID = &id
	}
	return out
}

// SameServiceSet compares two service id lists as sets.
func SameServiceSet(a, b []string) bool {
	sa, sb := NormalizeServiceIDs(a), NormalizeServiceIDs(b)
	if len(sa) != len(sb) {
		return false
	}
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

// NormalizeServiceIDs returns a sorted, de-duplicated copy without empty ids.
func NormalizeServiceIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

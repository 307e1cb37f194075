package collab

import "sort"

// Tracker maintains the roster of identities currently viewing a document.
// It is owned by the session loop and is not safe for concurrent use.
type Tracker struct {
	users map[string]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{users: make(map[string]struct{})}
}

// ReplaceAll seeds the roster from an authoritative snapshot, discarding any
// previously tracked identities.
func (t *Tracker) ReplaceAll(ids []string) {
	t.users = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		t.users[id] = struct{}{}
	}
}

// Join adds an identity. Returns false when it was already present.
func (t *Tracker) Join(id string) bool {
	if _, ok := t.users[id]; ok {
		return false
	}
	t.users[id] = struct{}{}
	return true
}

// Leave removes an identity. Removing an absent identity is a no-op.
func (t *Tracker) Leave(id string) bool {
	if _, ok := t.users[id]; !ok {
		return false
	}
	delete(t.users, id)
	return true
}

// Current returns the roster sorted for stable presentation.
func (t *Tracker) Current() []string {
	out := make([]string, 0, len(t.users))
	for id := range t.users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (t *Tracker) Count() int { return len(t.users) }

package document

import "time"

// Document is the persistent document model shared by the REST API and the
// realtime sync core. Content is the only field a client mutates locally
// between saves; everything else is server-owned.
type Document struct {
	ID        string    `json:"id" bson:"id"`
	Title     string    `json:"title" bson:"title"`
	Content   string    `json:"content,omitempty" bson:"content,omitempty"`
	OwnerID   string    `json:"ownerId" bson:"ownerId"`
	Private   bool      `json:"private,omitempty" bson:"private,omitempty"`
	Versions  []Version `json:"versions" bson:"versions"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Version is an immutable snapshot of the document body at a save point.
// Versions are ordered most-recent-last; a revert appends a new Version
// carrying the restored content rather than rewriting history.
type Version struct {
	ID        string    `json:"id" bson:"id"`
	Content   string    `json:"content" bson:"content"`
	EditorID  string    `json:"editorId" bson:"editorId"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// Latest returns the newest version, or nil when none exist.
func (d *Document) Latest() *Version {
	if len(d.Versions) == 0 {
		return nil
	}
	return &d.Versions[len(d.Versions)-1]
}

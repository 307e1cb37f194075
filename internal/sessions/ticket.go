package sessions

import "time"

// Ticket is a short-lived credential a client exchanges for a websocket
// connection. Issued over the authenticated HTTP API, validated once the
// socket upgrades.
type Ticket struct {
	Token     string    `bson:"token" json:"token"`
	Sub       string    `bson:"sub" json:"sub"`
	ExpiresAt time.Time `bson:"expiresAt" json:"expiresAt"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

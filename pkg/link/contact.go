package link

import (
	"time"

	"github.com/google/uuid"
)

// Contact represents one open session on a link: a start time, a
// convergence-layer session handle, and a back-reference to the owning
// link's name. A link has at most one current contact; the contact ends
// when the link leaves the open state.
type Contact struct {
	ID        string
	LinkName  string
	StartTime time.Time
}

func newContact(linkName string) *Contact {
	return &Contact{
		ID:        uuid.NewString(),
		LinkName:  linkName,
		StartTime: time.Now(),
	}
}

// Uptime reports how long the contact has been open.
func (c *Contact) Uptime() time.Duration {
	if c == nil {
		return 0
	}
	return time.Since(c.StartTime)
}

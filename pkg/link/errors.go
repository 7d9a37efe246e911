package link

import "errors"

var (
	// ErrIdleCloseOnAlwaysOn is returned by New when an alwayson link
	// configuration sets a non-zero idle-close time.
	ErrIdleCloseOnAlwaysOn = errors.New("link: idle_close_time must be zero for alwayson links")

	// ErrNotAvailable is returned by Open when the link is not currently
	// in the available state.
	ErrNotAvailable = errors.New("link: open requires state available")

	// ErrNoContact is returned by Close when the link has no current
	// contact.
	ErrNoContact = errors.New("link: close requires a contact")

	// ErrContactMismatch is returned by ContactUp when the contact id it
	// is given does not match the link's current pending contact.
	ErrContactMismatch = errors.New("link: contact id does not match current contact")

	// ErrNotUnavailable is returned by MakeAvailable when the link is not
	// currently unavailable.
	ErrNotUnavailable = errors.New("link: make-available requires state unavailable")

	// ErrHasContact is returned by MakeUnavailable while a contact is
	// open; the link must be closed first.
	ErrHasContact = errors.New("link: make-unavailable requires no open contact")
)

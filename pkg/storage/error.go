package storage

import "errors"

// ErrNotFound is returned when a record doesn't exist in a tier.
type ErrNotFound struct {
	Kind string // "entry", "fact", "streak", "artifact", "prefs", "job"
	ID   string
}

func (e ErrNotFound) Error() string {
	if e.ID == "" {
		return e.Kind + " not found"
	}
	return e.Kind + " not found: " + e.ID
}

// IsNotFound reports whether err is a tier not-found error.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}

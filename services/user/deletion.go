package user

import "time"

// Deletion describes where a soft-deleted account stands in its recovery window.
type Deletion struct {
	Deleted   bool
	Gone      bool
	Remaining time.Duration
}

// DeletionStatus evaluates u against a grace period of graceDays from its
// deletion time. An account is gone once the window has fully elapsed.
func DeletionStatus(u *User, graceDays int, now time.Time) Deletion {
	if u == nil || !u.DeletedAt.Valid {
		return Deletion{}
	}

	recoverUntil := u.DeletedAt.Time.Add(time.Duration(graceDays) * 24 * time.Hour)
	remaining := recoverUntil.Sub(now)
	if remaining <= 0 {
		return Deletion{Deleted: true, Gone: true}
	}
	return Deletion{Deleted: true, Remaining: remaining}
}

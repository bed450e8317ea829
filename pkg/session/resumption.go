package session

import "time"

// resumptionState tracks the upstream's resumption metadata. All
// access is guarded by the connection mutex.
type resumptionState struct {
	handle    string
	resumable bool
	// goAwayAt is when the upstream said it would force-close.
	// Zero means no warning received.
	goAwayAt time.Time
}

func (r *resumptionState) update(handle string, resumable bool) {
	if handle != "" {
		r.handle = handle
	}
	r.resumable = resumable
}

func (r *resumptionState) setGoAway(seconds int, now time.Time) {
	r.goAwayAt = now.Add(time.Duration(seconds) * time.Second)
}

func (r *resumptionState) reset() {
	r.resumable = false
	r.goAwayAt = time.Time{}
}

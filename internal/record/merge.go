package record

import "time"

// MergeString keeps prev unless next carries a non-empty value.
func MergeString(next, prev *string) *string {
	if next != nil && *next != "" {
		v := *next
		return &v
	}
	if prev == nil {
		return nil
	}
	v := *prev
	return &v
}

// MergeTarget keeps prev verbatim unless next is supplied.
// An explicit NONE target counts as supplied.
func MergeTarget(next, prev *Target) *Target {
	if next != nil {
		t := *next
		return &t
	}
	if prev == nil {
		return nil
	}
	t := *prev
	return &t
}

// Reconcile resolves an incoming write against the stored record.
// prev == nil creates a fresh record; otherwise state is overwritten, info and
// target are merged, and the last response and creation time carry over.
func Reconcile(prev *Record, w Write, now time.Time) Record {
	now = now.UTC().Truncate(time.Millisecond)
	if prev == nil {
		return Record{
			ID:        w.ID,
			State:     w.State,
			Info:      MergeString(w.Info, nil),
			Target:    MergeTarget(w.Target, nil),
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	out := Record{
		ID:        prev.ID,
		State:     w.State,
		Info:      MergeString(w.Info, prev.Info),
		Target:    MergeTarget(w.Target, prev.Target),
		CreatedAt: prev.CreatedAt,
		UpdatedAt: NextUpdate(prev.UpdatedAt, now),
	}
	if prev.Response != nil {
		r := *prev.Response
		out.Response = &r
	}
	return out
}

// NextUpdate returns now, or one millisecond past prev when the clock has not
// moved beyond it at storage resolution. Every write advances UpdatedAt.
func NextUpdate(prev, now time.Time) time.Time {
	now = now.UTC().Truncate(time.Millisecond)
	if !now.After(prev) {
		return prev.Add(time.Millisecond)
	}
	return now
}

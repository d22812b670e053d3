package status

import "time"

// Delta carries the fields changed by one operator update. Nil fields were
// not part of the update.
type Delta struct {
	Status    *string   `json:"status,omitempty"`
	Delay     *int      `json:"delay,omitempty"`
	Gate      *string   `json:"gate,omitempty"`
	Message   *string   `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	UpdatedBy string    `json:"updatedBy"`
}

// Placeholder is the state a client starts from when a delta arrives before
// any full status.
func Placeholder() Resolved {
	return Resolved{
		Status:  "Unknown",
		Message: "Status updated",
		Color:   defaultColor,
	}
}

// Merge applies d on top of r and returns the result. Fields absent from d
// are left unchanged. The color follows the status whenever the status changes.
func (r Resolved) Merge(d Delta) Resolved {
	if d.Status != nil {
		r.Status = *d.Status
		r.Color = Color(*d.Status)
	}
	if d.Delay != nil {
		r.Delay = *d.Delay
	}
	if d.Gate != nil {
		r.Gate = *d.Gate
	}
	if d.Message != nil {
		r.Message = *d.Message
	}
	if !d.Timestamp.IsZero() {
		ts := d.Timestamp
		r.LastUpdated = &ts
	}
	if d.UpdatedBy != "" {
		r.UpdatedBy = d.UpdatedBy
	}
	return r
}

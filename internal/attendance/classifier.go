package attendance

// Classification is the verdict for one student.
type Classification struct {
	Status     Status     `json:"status"`
	LateReason LateReason `json:"late_reason,omitempty"`
}

// Classifier turns zero-or-one record into Present, Late or Absent.
type Classifier struct {
	policy Policy
}

// NewClassifier creates a classifier for policy.
func NewClassifier(policy Policy) Classifier {
	return Classifier{policy: policy.withDefaults()}
}

// Classify is total: a nil record is Absent, a record outside the geofence is
// Late, a record past the grace cutoff is Late, anything else is Present.
func (c Classifier) Classify(session Session, rec *Record) Classification {
	if rec == nil {
		return Classification{Status: StatusAbsent}
	}
	if !rec.WithinRadius {
		return Classification{Status: StatusLate, LateReason: LateOutsideRadius}
	}
	if c.policy.LateAfter > 0 && rec.RecordedAt.After(session.OpensAt.Add(c.policy.LateAfter)) {
		return Classification{Status: StatusLate, LateReason: LateAfterGrace}
	}
	return Classification{Status: StatusPresent}
}

package attendance

import (
	"math"
	"sort"
	"time"
)

// Report is a current-state view of a session's attendance. Roster and
// records are read separately, so a report generated while claims are still
// arriving may lag either source; regenerate it rather than treating it as a
// point-in-time snapshot.
type Report struct {
	SessionRef  string      `json:"session_ref"`
	CourseRef   string      `json:"course_ref"`
	ProgramRef  string      `json:"program_ref"`
	StreamRef   string      `json:"stream_ref,omitempty"`
	OpensAt     time.Time   `json:"opens_at"`
	ClosesAt    time.Time   `json:"closes_at"`
	GeneratedAt time.Time   `json:"generated_at"`
	Rows        []ReportRow `json:"rows"`
	Summary     Summary     `json:"summary"`
}

// ReportRow is one roster member's classification.
type ReportRow struct {
	StudentRef   string     `json:"student_ref"`
	Status       Status     `json:"status"`
	LateReason   LateReason `json:"late_reason,omitempty"`
	RecordedAt   *time.Time `json:"recorded_at,omitempty"`
	WithinRadius *bool      `json:"within_radius,omitempty"`
}

// Summary counts are over the whole roster; percentages are rounded to two
// decimals.
type Summary struct {
	Total      int     `json:"total"`
	Present    int     `json:"present"`
	Late       int     `json:"late"`
	Absent     int     `json:"absent"`
	PresentPct float64 `json:"present_pct"`
	LatePct    float64 `json:"late_pct"`
	AbsentPct  float64 `json:"absent_pct"`
}

// Aggregator joins a roster with attendance records.
type Aggregator struct {
	classifier Classifier
	split      bool
}

// NewAggregator creates an aggregator using policy for classification.
func NewAggregator(policy Policy) Aggregator {
	return Aggregator{classifier: NewClassifier(policy), split: policy.SplitLateReasons}
}

// Aggregate produces one row per distinct roster member, ordered by student
// reference. Records for students not on the roster or for other sessions
// are ignored.
func (a Aggregator) Aggregate(session Session, roster []string, records []Record, at time.Time) Report {
	bySt := make(map[string]*Record, len(records))
	for i := range records {
		rec := &records[i]
		if rec.SessionRef != session.Ref {
			continue
		}
		if _, seen := bySt[rec.StudentRef]; !seen {
			bySt[rec.StudentRef] = rec
		}
	}

	students := make([]string, 0, len(roster))
	seen := make(map[string]struct{}, len(roster))
	for _, s := range roster {
		if _, dup := seen[s]; dup || s == "" {
			continue
		}
		seen[s] = struct{}{}
		students = append(students, s)
	}
	sort.Strings(students)

	rep := Report{
		SessionRef:  session.Ref,
		CourseRef:   session.CourseRef,
		ProgramRef:  session.ProgramRef,
		StreamRef:   session.StreamRef,
		OpensAt:     session.OpensAt,
		ClosesAt:    session.ClosesAt,
		GeneratedAt: at,
		Rows:        make([]ReportRow, 0, len(students)),
	}
	for _, st := range students {
		rec := bySt[st]
		c := a.classifier.Classify(session, rec)
		row := ReportRow{StudentRef: st, Status: c.Status}
		if a.split {
			row.LateReason = c.LateReason
		}
		if rec != nil {
			recordedAt, within := rec.RecordedAt, rec.WithinRadius
			row.RecordedAt = &recordedAt
			row.WithinRadius = &within
		}
		switch c.Status {
		case StatusPresent:
			rep.Summary.Present++
		case StatusLate:
			rep.Summary.Late++
		default:
			rep.Summary.Absent++
		}
		rep.Rows = append(rep.Rows, row)
	}

	total := len(rep.Rows)
	rep.Summary.Total = total
	rep.Summary.PresentPct = percent(rep.Summary.Present, total)
	rep.Summary.LatePct = percent(rep.Summary.Late, total)
	rep.Summary.AbsentPct = percent(rep.Summary.Absent, total)
	return rep
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)*10000/float64(total)) / 100
}

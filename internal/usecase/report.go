package usecase

import (
	"fmt"
	"strings"
)

// Report aggregates the results of a multi-platform run, in submission order.
type Report struct {
	Results []Result
}

// Failures returns the results that ended in the failed state.
func (r Report) Failures() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.State == StateFailed {
			out = append(out, res)
		}
	}
	return out
}

// Accepted counts accepted items across all completed runs.
func (r Report) Accepted() int {
	total := 0
	for _, res := range r.Results {
		if res.State == StateCompleted {
			total += res.Stats.Accepted
		}
	}
	return total
}

// OK reports whether every run completed.
func (r Report) OK() bool {
	return len(r.Failures()) == 0
}

// String renders a plain-text summary, one line per run. A run that found only duplicates
// is reported differently from a failed one.
func (r Report) String() string {
	if len(r.Results) == 0 {
		return "No ingestion runs.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Ingestion report: %d runs, %d accepted, %d failed\n", len(r.Results), r.Accepted(), len(r.Failures()))
	for _, res := range r.Results {
		fmt.Fprintf(&b, "- %s/%s: ", res.SubjectID, res.Platform)
		s := res.Stats
		switch {
		case res.State == StateFailed:
			fmt.Fprintf(&b, "FAILED: %v\n", res.Err)
		case s.Fetched == 0:
			b.WriteString("nothing fetched\n")
		case s.Accepted == 0 && s.Duplicates == s.Fetched:
			fmt.Fprintf(&b, "no new items (%d duplicates)\n", s.Duplicates)
		default:
			fmt.Fprintf(&b, "%d accepted of %d fetched (duplicates %d, out of range %d, rejected %d, low score %d)\n",
				s.Accepted, s.Fetched, s.Duplicates, s.OutOfRange, s.Rejected, s.LowScore)
		}
	}
	return b.String()
}

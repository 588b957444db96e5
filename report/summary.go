package report

import (
	"fmt"

	"github.com/SeanNg93/Gmail-app-password-tester/input"
	"github.com/SeanNg93/Gmail-app-password-tester/verifier"
)

// Summary counts report rows by outcome.
type Summary struct {
	OK      int // both probes succeeded
	Partial int // exactly one probe succeeded
	Failed  int
	Skipped int
}

// Summarize tallies results and skips.
func Summarize(results []verifier.Result, skips []input.Skip) Summary {
	s := Summary{Skipped: len(skips)}
	for _, r := range results {
		switch r.Outcome() {
		case "ok":
			s.OK++
		case "partial":
			s.Partial++
		default:
			s.Failed++
		}
	}
	return s
}

// Total is the number of report rows.
func (s Summary) Total() int {
	return s.OK + s.Partial + s.Failed + s.Skipped
}

func (s Summary) String() string {
	return fmt.Sprintf("%d ok, %d partial, %d failed, %d skipped", s.OK, s.Partial, s.Failed, s.Skipped)
}

package formatter

import (
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/gnolang/tdfa/internal"
	tt "github.com/gnolang/tdfa/internal/types"
)

// WriteSummary renders one table row per analyzed program.
func WriteSummary(w io.Writer, reports []internal.Report) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"File", "Program", "Stop", "Steps", "Peak queue", "Merges", "Final states", "Errors", "Warnings", "Infos"})
	table.SetAutoWrapText(false)

	var steps, errs, warns, infos int
	for _, r := range reports {
		counts := countSeverities(r.Issues)
		stop := r.StopReason
		if r.Cached {
			stop += " (cached)"
		}
		if r.ForciblyMerged {
			stop += " (forced merge)"
		}
		table.Append([]string{
			r.Filename,
			r.Program,
			stop,
			strconv.Itoa(r.Stats.Steps),
			strconv.Itoa(r.Stats.PeakQueue),
			strconv.Itoa(r.Stats.Merged + r.Stats.ForceMerges),
			strconv.Itoa(r.FinalStates),
			strconv.Itoa(counts[tt.SeverityError]),
			strconv.Itoa(counts[tt.SeverityWarning]),
			strconv.Itoa(counts[tt.SeverityInfo]),
		})
		steps += r.Stats.Steps
		errs += counts[tt.SeverityError]
		warns += counts[tt.SeverityWarning]
		infos += counts[tt.SeverityInfo]
	}
	table.SetFooter([]string{
		"", strconv.Itoa(len(reports)) + " programs", "", strconv.Itoa(steps), "", "", "",
		strconv.Itoa(errs), strconv.Itoa(warns), strconv.Itoa(infos),
	})
	table.Render()
}

func countSeverities(issues []tt.Issue) map[tt.Severity]int {
	counts := make(map[tt.Severity]int)
	for _, issue := range issues {
		counts[issue.Severity]++
	}
	return counts
}

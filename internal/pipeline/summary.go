package pipeline

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// Print writes a per-source table followed by a totals line.
func (s Summary) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tSTATUS\tYEARS\tWIDE ROWS\tLONG ROWS\tDURATION\tMESSAGE")
	for _, o := range s.Outcomes {
		fmt.Fprintf(tw, "%s.%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			o.Source.Schema, o.Source.Table, o.Status, len(o.Years),
			rowsCell(o.Wide), rowsCell(o.Long),
			o.Duration.Truncate(time.Millisecond), o.Message)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	ok, skipped, failed := s.Counts()
	_, err := fmt.Fprintf(w, "run %s (%s): %d ok, %d skipped, %d failed in %s\n",
		s.RunID, s.Job, ok, skipped, failed, s.Duration.Truncate(time.Millisecond))
	return err
}

func rowsCell(t *TableOutcome) string {
	switch {
	case t == nil:
		return "-"
	case !t.OK:
		return "error"
	case t.Unchanged:
		return fmt.Sprintf("%d (unchanged)", t.Rows)
	default:
		return fmt.Sprintf("%d", t.Rows)
	}
}

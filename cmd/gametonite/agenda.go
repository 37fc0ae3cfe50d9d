package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gametonite/internal/calsync"
	"gametonite/internal/timewindow"
)

// printAgenda renders a layout as a plain-text table, one row per session,
// with the stacking column and window fractions alongside.
func printAgenda(w io.Writer, l calsync.Layout) {
	loc := l.Now.Location()
	fmt.Fprintf(w, "\nwindow %s - %s  now %s (marker %.1f%% from bottom)\n",
		l.Window.Start.In(loc).Format("Mon 15:04"),
		l.Window.End.In(loc).Format("Mon 15:04"),
		l.Now.Format("15:04"),
		l.Timebar,
	)
	fmt.Fprintf(w, "hours  %s\n", strings.Join(everyThird(timewindow.HourLabels(l.Window.OffsetHours)), "  "))
	if l.FetchErr != nil {
		fmt.Fprintf(w, "! last refresh failed: %v\n", l.FetchErr)
	}
	if l.MutationErr != nil {
		fmt.Fprintf(w, "! last change failed: %v\n", l.MutationErr)
	}

	if len(l.Items) == 0 {
		fmt.Fprintln(w, "no sessions")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCOL\tSTART\tEND\tSPAN\tTITLE\tGAME\tOWNER\tPLAYERS")
	for _, it := range l.Items {
		s := it.Session
		game := "-"
		if s.Game != nil && *s.Game != "" {
			game = *s.Game
		}
		names := make([]string, 0, len(s.Participants))
		for _, p := range s.Participants {
			names = append(names, p.Name)
		}
		fmt.Fprintf(tw, "%d\t%d/%d\t%s\t%s\t%.0f-%.0f%%\t%s\t%s\t%s\t%s\n",
			s.SessionID,
			it.Column+1, l.Columns,
			s.StartTime.In(loc).Format("15:04"),
			s.EndTime.In(loc).Format("15:04"),
			it.Top*100, it.Bottom*100,
			s.Title,
			game,
			s.Owner.Name,
			strings.Join(names, ","),
		)
	}
	tw.Flush()
}

func everyThird(labels []string) []string {
	out := make([]string, 0, len(labels)/3+1)
	for i := 0; i < len(labels); i += 3 {
		out = append(out, labels[i])
	}
	return out
}

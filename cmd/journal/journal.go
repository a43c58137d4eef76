// Package journal implements the journal command.
package journal

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/birdnet-edge/internal/conf"
	"github.com/tphakala/birdnet-edge/internal/dispatch"
)

// Command creates the journal command
func Command(settings *conf.Settings) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List events that could not be delivered",
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := dispatch.OpenJournal(settings.Dispatch.Journal.Path)
			if err != nil {
				return err
			}
			defer func() { _ = j.Close() }()

			rows, err := j.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println("No abandoned events")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ABANDONED\tEVENT\tREASON\tATTEMPTS\tLAST ERROR")
			for i := range rows {
				r := &rows[i]
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					r.AbandonedAt.Local().Format(time.DateTime), r.EventID, r.Reason, r.Attempts, r.LastError)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of events to show")
	return cmd
}

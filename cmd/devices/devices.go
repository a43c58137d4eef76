// Package devices implements the devices command.
package devices

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/birdnet-edge/internal/audio"
)

// Command creates the devices command
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio capture devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := audio.EnumerateDevices()
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Println("No capture devices found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "INDEX\tDEFAULT\tNAME\tID")
			for _, d := range devices {
				def := ""
				if d.IsDefault {
					def = "*"
				}
				_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", d.Index, def, d.Name, d.ID)
			}
			return w.Flush()
		},
	}
}

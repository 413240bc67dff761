package history

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/carebell/carebell-go/internal/conf"
	"github.com/carebell/carebell-go/internal/history"
)

// Command creates the history command, which prints the durable call
// history without starting the pipeline.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		code        string
		fromArg     string
		toArg       string
		withDeleted bool
		asJSON      bool
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded calls",
		Long:  "Read the call history file and print recorded calls, newest first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := history.Filter{Code: code, IncludeDeleted: withDeleted}

			from, err := parseTimeArg(fromArg)
			if err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}
			filter.From = from

			to, err := parseTimeArg(toArg)
			if err != nil {
				return fmt.Errorf("invalid --to: %w", err)
			}
			filter.To = to

			store := history.New(settings.History)
			defer store.Close()

			records := store.List(filter)
			// List returns oldest first; the console wants recent calls on top.
			for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
				records[i], records[j] = records[j], records[i]
			}
			if limit > 0 && len(records) > limit {
				records = records[:limit]
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}

			printRecords(records, settings.Main.TimeAs24h)
			return nil
		},
	}

	cmd.Flags().StringVar(&code, "code", "", "Only show calls with this call code")
	cmd.Flags().StringVar(&fromArg, "from", "", "Only show calls started at or after this time (2006-01-02 or RFC3339)")
	cmd.Flags().StringVar(&toArg, "to", "", "Only show calls started at or before this time (2006-01-02 or RFC3339)")
	cmd.Flags().BoolVar(&withDeleted, "deleted", false, "Include soft-deleted calls")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of calls to print, 0 for all")

	return cmd
}

// parseTimeArg accepts a bare date or a full RFC3339 timestamp.
func parseTimeArg(arg string) (*time.Time, error) {
	if arg == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.DateOnly, arg); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, arg)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func printRecords(records []history.Record, timeAs24h bool) {
	clock := time.TimeOnly
	if !timeAs24h {
		clock = "03:04:05 PM"
	}
	layout := time.DateOnly + " " + clock

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tCODE\tROOM\tBED\tSTATUS\tDURATION")
	for i := range records {
		r := &records[i]
		duration := ""
		if r.DurationSec != nil {
			duration = (time.Duration(*r.DurationSec) * time.Second).String()
		}
		status := string(r.Status)
		if r.DeletedAt != nil {
			status += " (deleted)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format(layout), r.Code, r.Room, r.Bed, status, duration)
	}
	w.Flush()

	if len(records) == 0 {
		fmt.Println("no recorded calls match")
	}
}

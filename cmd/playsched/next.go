package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/strefethen/playsched-go/internal/db"
	"github.com/strefethen/playsched-go/internal/schedule"
)

func newNextCmd() *cobra.Command {
	var count int
	var dbPath string

	cmd := &cobra.Command{
		Use:   "next <schedule-id>",
		Short: "Print a schedule's upcoming occurrences",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				dbPath = defaultDBPath()
			}
			return printNext(cmd.Context(), cmd.OutOrStdout(), dbPath, args[0], count, time.Now())
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of occurrences to print")
	cmd.Flags().StringVar(&dbPath, "db", "", "database path (defaults to SQLITE_DB_PATH)")
	return cmd
}

func defaultDBPath() string {
	if p := os.Getenv("SQLITE_DB_PATH"); p != "" {
		return p
	}
	return "./data/playsched.db"
}

func printNext(ctx context.Context, w io.Writer, dbPath, id string, count int, now time.Time) error {
	if ctx == nil {
		ctx = context.Background()
	}
	dbPair, err := db.Init(dbPath)
	if err != nil {
		return err
	}
	defer dbPair.Close()

	s, err := schedule.NewRepository(dbPair).Get(ctx, id)
	if err != nil {
		return err
	}
	if s == nil {
		return &schedule.NotFoundError{ID: id}
	}

	bold := color.New(color.Bold)
	gray := color.New(color.FgHiBlack)
	yellow := color.New(color.FgYellow)

	name := s.Name
	if name == "" {
		name = s.SourceName
	}
	fmt.Fprintf(w, "%s %s\n", bold.Sprint(name), gray.Sprintf("(%s, %s)", s.ID, s.Timezone))

	switch {
	case s.Consumed:
		fmt.Fprintln(w, yellow.Sprint("one-shot already played"))
		return nil
	case !s.Active:
		fmt.Fprintln(w, yellow.Sprint("paused"))
		return nil
	}

	occs, err := schedule.Upcoming(s, now, count)
	if err != nil {
		return err
	}
	if len(occs) == 0 {
		fmt.Fprintln(w, yellow.Sprint("no upcoming occurrences"))
		return nil
	}

	loc, err := s.Timezone.Location()
	if err != nil {
		return err
	}
	green := color.New(color.FgGreen)
	for _, occ := range occs {
		line := green.Sprint(occ.Start.In(loc).Format("Mon Jan 2 15:04 MST"))
		if occ.Stop != nil {
			line += " - " + green.Sprint(occ.Stop.In(loc).Format("15:04 MST"))
		}
		fmt.Fprintf(w, "  %s  %s\n", line, gray.Sprint(occ.Start.UTC().Format(time.RFC3339)))
	}
	return nil
}

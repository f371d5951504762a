package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/taduranmiggy/loveyou/internal/app"
	"github.com/taduranmiggy/loveyou/internal/calendar"
	"github.com/taduranmiggy/loveyou/internal/model"
	"github.com/taduranmiggy/loveyou/internal/ui"
)

// parseDay accepts either YYYY-MM-DD or natural language ("today",
// "yesterday", "last friday").
func parseDay(input string) (string, error) {
	if input == "" {
		return model.FormatDate(time.Now()), nil
	}
	if t, err := model.ParseDate(input); err == nil {
		return model.FormatDate(t), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	res, err := w.Parse(input, time.Now())
	if err != nil || res == nil {
		return "", fmt.Errorf("could not understand date %q", input)
	}
	return model.FormatDate(res.Time), nil
}

var takeCmd = &cobra.Command{
	Use:     "take [date]",
	GroupID: "tracking",
	Short:   "Record today's dose as taken",
	Long: `Record a dose as taken. With no argument the dose is logged for today.

The date may be a YYYY-MM-DD string or natural language:
  ly take
  ly take yesterday
  ly take "last friday" --note "late by a few hours"

Recording the same day twice overwrites the earlier entry.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		input := ""
		if len(args) > 0 {
			input = args[0]
		}
		date, err := parseDay(input)
		if err != nil {
			fatalf("%v", err)
		}

		note, _ := cmd.Flags().GetString("note")
		skipped, _ := cmd.Flags().GetBool("skipped")

		event, err := a.RecordIntake(cmd.Context(), date, !skipped, note)
		if err != nil {
			fatalf("%v", err)
		}

		if event.Taken {
			fmt.Printf("%s Logged %s as taken\n", ui.RenderPass("✓"), event.Date)
		} else {
			fmt.Printf("%s Logged %s as skipped\n", ui.RenderWarn("⚠"), event.Date)
		}
		if !a.Online() && a.Remote != nil {
			fmt.Printf("   %s\n", ui.RenderFaint("offline: queued for sync"))
		}
	},
}

var dayCmd = &cobra.Command{
	Use:     "day [date]",
	GroupID: "tracking",
	Short:   "Show one day's cycle position and intake",
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		input := ""
		if len(args) > 0 {
			input = args[0]
		}
		date, err := parseDay(input)
		if err != nil {
			fatalf("%v", err)
		}

		entries, err := projectCalendar(cmd, a, date, date)
		if err != nil {
			fatalf("%v", err)
		}
		if len(entries) == 0 {
			fatalf("date %s is before the cycle start", date)
		}
		printEntry(entries[0])
	},
}

var calendarCmd = &cobra.Command{
	Use:     "calendar",
	GroupID: "tracking",
	Short:   "Show the projected cycle calendar",
	Long: `Project the regimen cycle over past intake history and the month ahead.

Every day from the cycle start through one month from today is shown with
its position in the cycle, whether it is an active or break day, and
whether the dose was logged.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		today := model.FormatDate(time.Now())
		entries, err := projectCalendar(cmd, a, "", today)
		if err != nil {
			fatalf("%v", err)
		}

		compact, _ := cmd.Flags().GetBool("compact")
		for _, e := range entries {
			if compact && !e.Active && !e.Taken {
				continue
			}
			printEntry(e)
		}
	},
}

// projectCalendar loads the user's regimen and history and runs the
// projection. When day is non-empty only that day's entry is returned.
func projectCalendar(cmd *cobra.Command, a *app.App, day, today string) ([]calendar.DayEntry, error) {
	ctx := cmd.Context()

	user, err := a.Store().CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if user.RegimenID == "" || user.CycleStart == "" {
		return nil, fmt.Errorf("no regimen configured; set one with 'ly profile --regimen <id> --start <date>'")
	}

	regimen, err := a.Store().GetRegimen(ctx, user.RegimenID)
	if err != nil {
		return nil, fmt.Errorf("failed to load regimen %q: %w", user.RegimenID, err)
	}

	events, err := a.Store().IntakeHistory(ctx, user.ID, "", "")
	if err != nil {
		return nil, err
	}

	start, err := model.ParseDate(user.CycleStart)
	if err != nil {
		return nil, fmt.Errorf("invalid cycle start on profile: %w", err)
	}
	now, err := model.ParseDate(today)
	if err != nil {
		return nil, err
	}

	entries := calendar.Project(*regimen, start, now, events)
	if day == "" {
		return entries, nil
	}
	for _, e := range entries {
		if e.Date == day {
			return []calendar.DayEntry{e}, nil
		}
	}
	return nil, nil
}

func printEntry(e calendar.DayEntry) {
	kind := ui.RenderFaint("break")
	if e.Active {
		kind = ui.RenderAccent("active")
	}

	mark := " "
	switch {
	case e.Taken:
		mark = ui.RenderPass("✓")
	case e.Active && e.Logged && !e.Taken:
		mark = ui.RenderWarn("✗")
	}

	line := fmt.Sprintf("%s  day %2d  %-6s %s", e.Date, e.DayInCycle, kind, mark)
	if e.Note != "" {
		line += "  " + ui.RenderFaint(e.Note)
	}
	fmt.Println(strings.TrimRight(line, " "))
}

func init() {
	takeCmd.Flags().String("note", "", "Optional note for the day")
	takeCmd.Flags().Bool("skipped", false, "Record the dose as skipped instead of taken")

	calendarCmd.Flags().Bool("compact", false, "Hide break days with no log entry")

	rootCmd.AddCommand(takeCmd)
	rootCmd.AddCommand(dayCmd)
	rootCmd.AddCommand(calendarCmd)
}

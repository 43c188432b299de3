package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/meetingagent/plugin/ai/agent"
	nlp "github.com/hrygo/meetingagent/plugin/ai/schedule"
	"github.com/hrygo/meetingagent/plugin/ai/timeout"
	"github.com/hrygo/meetingagent/server"
	"github.com/hrygo/meetingagent/server/service/schedule"
)

// meetingFlags are the structured request flags shared by schedule and confirm.
type meetingFlags struct {
	title        string
	participants []string
	start        string
	duration     int
	location     string
	recurrence   string
	weekends     bool
}

func (f *meetingFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.title, "title", "", "meeting title")
	cmd.Flags().StringSliceVar(&f.participants, "participants", nil, "comma separated participants")
	cmd.Flags().StringVar(&f.start, "start", "", `preferred start, RFC 3339 or "2006-01-02 15:04"`)
	cmd.Flags().IntVar(&f.duration, "duration", 0, "duration in minutes")
	cmd.Flags().StringVar(&f.location, "location", "", "meeting location")
	cmd.Flags().StringVar(&f.recurrence, "recurrence", "", "daily, weekly, biweekly, monthly or an RRULE")
	cmd.Flags().BoolVar(&f.weekends, "weekends", false, "allow Saturday and Sunday")
}

func (f *meetingFlags) request(loc *time.Location) (*schedule.SchedulingRequest, error) {
	req := &schedule.SchedulingRequest{
		Title:           f.title,
		Participants:    f.participants,
		DurationMinutes: f.duration,
		Location:        f.location,
		Recurrence:      f.recurrence,
		AllowWeekends:   f.weekends,
		Priority:        nlp.InferPriority(f.title),
	}
	if f.start != "" {
		start, err := parseTime(f.start, loc)
		if err != nil {
			return nil, err
		}
		req.Start = &start
	}
	return req, nil
}

func parseTime(value string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", value, loc)
	if err != nil {
		return time.Time{}, errors.Errorf("invalid time %q: use RFC 3339 or \"2006-01-02 15:04\"", value)
	}
	return t, nil
}

// searchCriteria resolves the listing window. Dates without a clock mean
// midnight in loc.
func searchCriteria(start, end string, loc *time.Location) (schedule.SearchCriteria, error) {
	now := time.Now().In(loc)
	criteria := schedule.SearchCriteria{Start: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)}
	parse := func(v string) (time.Time, error) {
		if t, err := time.ParseInLocation("2006-01-02", v, loc); err == nil {
			return t, nil
		}
		return parseTime(v, loc)
	}
	var err error
	if start != "" {
		if criteria.Start, err = parse(start); err != nil {
			return criteria, err
		}
	}
	criteria.End = criteria.Start.AddDate(0, 0, 7)
	if end != "" {
		if criteria.End, err = parse(end); err != nil {
			return criteria, err
		}
	}
	return criteria, nil
}

// runAgent opens the store, builds the agent and runs fn serialized for the
// configured identity.
func runAgent(fn func(ctx context.Context, a *server.Agent, e *agent.Engine) error) error {
	userID := strings.TrimSpace(viper.GetString("user"))
	if userID == "" {
		return errors.New("an identity is required: pass --user or set MEETINGAGENT_USER")
	}
	instanceProfile, err := loadProfile()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout.RequestTimeout)
	defer cancel()

	storeInstance, err := openStore(ctx, instanceProfile)
	if err != nil {
		return err
	}
	defer storeInstance.Close()

	a, err := server.NewAgent(instanceProfile, storeInstance)
	if err != nil {
		return err
	}
	defer a.Close()

	err = a.Registry.Do(ctx, userID, func(e *agent.Engine) error {
		return fn(ctx, a, e)
	})
	if err != nil {
		_ = printJSON(os.Stderr, map[string]any{"error": server.ErrorBody(err)})
	}
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printDecision prints the decision even when the cycle failed, then the error.
func printDecision(d *agent.Decision, err error) error {
	if d != nil {
		if printErr := printJSON(os.Stdout, d); printErr != nil {
			return printErr
		}
	}
	return err
}

func addAgentCommands(root *cobra.Command) {
	var scheduleFlags meetingFlags
	scheduleCmd := &cobra.Command{
		Use:   "schedule [text]",
		Short: "Run one decision cycle for a free text or structured request.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runAgent(func(ctx context.Context, a *server.Agent, e *agent.Engine) error {
				var req *schedule.SchedulingRequest
				if len(args) == 1 {
					parsed, err := a.Parser.Parse(ctx, args[0])
					if err != nil {
						return err
					}
					req = parsed.Request
				} else {
					var err error
					if req, err = scheduleFlags.request(a.Location); err != nil {
						return err
					}
				}
				return printDecision(e.Decide(ctx, req))
			})
		},
	}
	scheduleFlags.register(scheduleCmd)

	var confirmFlags meetingFlags
	confirmCmd := &cobra.Command{
		Use:   "confirm",
		Short: "Book a suggested start after a fresh conflict check.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runAgent(func(ctx context.Context, a *server.Agent, e *agent.Engine) error {
				req, err := confirmFlags.request(a.Location)
				if err != nil {
					return err
				}
				if req.Start == nil {
					return errors.New("--start is required")
				}
				return printDecision(e.Confirm(ctx, req, *req.Start))
			})
		},
	}
	confirmFlags.register(confirmCmd)

	feedbackCmd := &cobra.Command{
		Use:   "feedback <score> [record-id]",
		Short: "Score a decision in [0, 1]; the latest decision when no record is given.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			score, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return errors.Wrapf(err, "invalid score %q", args[0])
			}
			recordID := ""
			if len(args) == 2 {
				recordID = args[1]
			}
			return runAgent(func(ctx context.Context, _ *server.Agent, e *agent.Engine) error {
				record, degraded, err := e.Feedback(ctx, recordID, score)
				if err != nil {
					return err
				}
				return printJSON(os.Stdout, map[string]any{"record": record, "degraded_durability": degraded})
			})
		},
	}

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Show the agent report with calendar context and suggestions.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runAgent(func(ctx context.Context, _ *server.Agent, e *agent.Engine) error {
				insight, err := e.Report(ctx)
				if err != nil {
					return err
				}
				return printJSON(os.Stdout, insight)
			})
		},
	}

	alertsCmd := &cobra.Command{
		Use:   "alerts",
		Short: "List proactive alerts for upcoming meetings.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runAgent(func(ctx context.Context, _ *server.Agent, e *agent.Engine) error {
				alerts, err := e.Alerts(ctx)
				if err != nil {
					return err
				}
				for _, alert := range alerts {
					fmt.Printf("[%s] %s %s\n", alert.Urgency, alert.Kind, alert.Message)
				}
				return nil
			})
		},
	}

	modeCmd := &cobra.Command{
		Use:   "mode [new-mode]",
		Short: "Show or switch the autonomy mode.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runAgent(func(ctx context.Context, _ *server.Agent, e *agent.Engine) error {
				if len(args) == 0 {
					mode, err := e.Mode(ctx)
					if err != nil {
						return err
					}
					fmt.Println(mode)
					return nil
				}
				mode, err := agent.ParseMode(args[0])
				if err != nil {
					return err
				}
				degraded, err := e.SetMode(ctx, mode)
				if err != nil {
					return err
				}
				if degraded {
					fmt.Fprintln(os.Stderr, "warning: mode change is not durable")
				}
				fmt.Println(mode)
				return nil
			})
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel <meeting-id>",
		Short: "Cancel a meeting.",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 32)
			if err != nil {
				return errors.Wrapf(err, "invalid meeting id %q", args[0])
			}
			return runAgent(func(ctx context.Context, _ *server.Agent, e *agent.Engine) error {
				ok, err := e.Cancel(ctx, int32(id))
				if err != nil {
					return err
				}
				if !ok {
					return errors.Errorf("meeting %d not found or already cancelled", id)
				}
				fmt.Printf("meeting %d cancelled\n", id)
				return nil
			})
		},
	}

	rescheduleCmd := &cobra.Command{
		Use:   "reschedule <meeting-id> <start>",
		Short: "Move a meeting keeping its duration.",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 32)
			if err != nil {
				return errors.Wrapf(err, "invalid meeting id %q", args[0])
			}
			return runAgent(func(ctx context.Context, a *server.Agent, e *agent.Engine) error {
				start, err := parseTime(args[1], a.Location)
				if err != nil {
					return err
				}
				result, err := e.Reschedule(ctx, int32(id), start)
				if err != nil {
					return err
				}
				fmt.Println(result.Notice)
				return nil
			})
		},
	}

	var search struct {
		start, end                   string
		title, participant, location string
	}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List meetings in a window, optionally filtered by title, participant or location.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runAgent(func(ctx context.Context, a *server.Agent, e *agent.Engine) error {
				criteria, err := searchCriteria(search.start, search.end, a.Location)
				if err != nil {
					return err
				}
				criteria.Title = search.title
				criteria.Participant = search.participant
				criteria.Location = search.location
				instances, err := schedule.SearchMeetings(ctx, a.Calendar, e.UserID(), criteria)
				if err != nil {
					return err
				}
				return printJSON(os.Stdout, instances)
			})
		},
	}
	listCmd.Flags().StringVar(&search.start, "start", "", "window start, today when empty")
	listCmd.Flags().StringVar(&search.end, "end", "", "window end, a week after start when empty")
	listCmd.Flags().StringVar(&search.title, "title", "", "title substring")
	listCmd.Flags().StringVar(&search.participant, "participant", "", "participant name")
	listCmd.Flags().StringVar(&search.location, "location", "", "location substring")

	showCmd := &cobra.Command{
		Use:   "show <meeting-id>",
		Short: "Show one meeting.",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 32)
			if err != nil {
				return errors.Wrapf(err, "invalid meeting id %q", args[0])
			}
			return runAgent(func(ctx context.Context, a *server.Agent, e *agent.Engine) error {
				meeting, err := a.Calendar.GetMeeting(ctx, e.UserID(), int32(id))
				if err != nil {
					return err
				}
				return printJSON(os.Stdout, meeting)
			})
		},
	}

	importCmd := &cobra.Command{
		Use:   "import <file.ics>",
		Short: "Import the events of an iCalendar file.",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return runAgent(func(ctx context.Context, a *server.Agent, e *agent.Engine) error {
				result, err := schedule.ImportICS(ctx, a.Calendar, e.UserID(), f, a.Location)
				if err != nil {
					return err
				}
				return printJSON(os.Stdout, result)
			})
		},
	}

	root.AddCommand(scheduleCmd, confirmCmd, feedbackCmd, reportCmd, alertsCmd, modeCmd, cancelCmd, rescheduleCmd, listCmd, showCmd, importCmd)
}

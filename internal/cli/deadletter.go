package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/laurels/internal/engine"
)

// DeadLetterOptions holds flags for the deadletter commands.
type DeadLetterOptions struct {
	*RootOptions
	All   bool
	Users string
}

// NewDeadLetterCommand creates the deadletter command group.
func NewDeadLetterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeadLetterOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "deadletter",
		Short: "Inspect and redrive dead-lettered events",
		Long: `Events whose apply kept failing after every retry are parked as dead
letters. Nothing they would have written is visible until they are redriven.`,
	}

	list := &cobra.Command{
		Use:           "list",
		Short:         "List dead letters",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeadLetterList(opts, cmd)
		},
	}
	list.Flags().BoolVar(&opts.All, "all", false, "include resolved dead letters")

	retry := &cobra.Command{
		Use:           "retry <id>",
		Short:         "Dispatch a dead-lettered event again",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeadLetterRetry(opts, args[0], cmd)
		},
	}
	retry.Flags().StringVar(&opts.Users, "users", "", "path to users file (YAML or JSON)")

	cmd.AddCommand(list, retry)
	return cmd
}

// DeadLetterView is the JSON rendering of a dead letter.
type DeadLetterView struct {
	ID         int64  `json:"id"`
	EventID    string `json:"eventId"`
	Attempts   int    `json:"attempts"`
	Error      string `json:"error"`
	FailedAt   string `json:"failedAt"`
	ResolvedAt string `json:"resolvedAt,omitempty"`
}

func runDeadLetterList(opts *DeadLetterOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	sess, err := opts.openSession(ctx, cmd, cfg, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	letters, err := sess.store.DeadLetters(ctx, opts.All)
	if err != nil {
		return WrapExitError(ExitFailure, "query failed", err)
	}

	views := make([]DeadLetterView, len(letters))
	for i, dl := range letters {
		views[i] = DeadLetterView{
			ID:       dl.ID,
			EventID:  dl.EventID,
			Attempts: dl.Attempts,
			Error:    dl.Error,
			FailedAt: dl.FailedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
		if dl.ResolvedAt != nil {
			views[i].ResolvedAt = dl.ResolvedAt.UTC().Format("2006-01-02T15:04:05Z")
		}
	}

	if formatter.JSON() {
		return formatter.Success(views)
	}
	if len(views) == 0 {
		fmt.Fprintln(formatter.Writer, "no dead letters")
		return nil
	}
	for _, v := range views {
		status := "open"
		if v.ResolvedAt != "" {
			status = "resolved " + v.ResolvedAt
		}
		fmt.Fprintf(formatter.Writer, "#%d  %s  attempts=%d  %s  %s\n    %s\n",
			v.ID, v.EventID, v.Attempts, v.FailedAt, status, v.Error)
	}
	return nil
}

func runDeadLetterRetry(opts *DeadLetterOptions, rawID string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid dead letter id", err)
	}
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("users") {
		cfg.Users = opts.Users
	}
	if cfg.Users == "" {
		return NewExitError(ExitCommandError, "a users file is required (--users or LAURELS_USERS)")
	}
	dir, err := engine.LoadDirectoryFile(cfg.Users)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load users", err)
	}

	ctx := commandContext(cmd)
	sess, err := opts.openSession(ctx, cmd, cfg, dir)
	if err != nil {
		return err
	}
	defer sess.Close()

	out, err := sess.engine.RedriveDeadLetter(ctx, id)
	if err != nil {
		_ = formatter.Error("E300", err.Error(), nil)
		return WrapExitError(ExitFailure, "redrive failed", err)
	}

	if formatter.JSON() {
		return formatter.Success(map[string]any{
			"id":      id,
			"eventId": out.EventID,
			"state":   out.State,
			"granted": out.GrantedIDs(),
		})
	}
	fmt.Fprintf(formatter.Writer, "dead letter #%d redriven: %s %s\n", id, out.EventID, out.State)
	return nil
}

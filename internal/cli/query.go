package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewBadgesCommand creates the badges command.
func NewBadgesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "badges <user-id>",
		Short:         "List a user's badges in grant order",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBadges(rootOpts, args[0], cmd)
		},
	}
}

func runBadges(opts *RootOptions, userID string, cmd *cobra.Command) error {
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

	badges, err := sess.engine.Query().GetUserBadges(ctx, userID)
	if err != nil {
		return WrapExitError(ExitFailure, "query failed", err)
	}

	if formatter.JSON() {
		return formatter.Success(badges)
	}
	if len(badges) == 0 {
		fmt.Fprintf(formatter.Writer, "%s has no badges\n", userID)
		return nil
	}
	for _, b := range badges {
		fmt.Fprintf(formatter.Writer, "%s  %s (%s, %d pts)  %s\n",
			b.GrantedAt.UTC().Format("2006-01-02T15:04:05Z"), b.Name, b.Rarity, b.Points, b.BadgeID)
	}
	return nil
}

// NewNextCommand creates the next command.
func NewNextCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "next <user-id>",
		Short:         "List the progress badges a user can still earn",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNext(rootOpts, args[0], cmd)
		},
	}
}

func runNext(opts *RootOptions, userID string, cmd *cobra.Command) error {
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

	next, err := sess.engine.Query().GetNextAchievable(ctx, userID)
	if err != nil {
		return WrapExitError(ExitFailure, "query failed", err)
	}

	if formatter.JSON() {
		return formatter.Success(next)
	}
	for _, a := range next {
		fmt.Fprintf(formatter.Writer, "%s  %s %d/%d  %s\n",
			a.BadgeID, a.Metric, a.ProgressCurrent, a.ProgressTarget, a.Name)
	}
	return nil
}

// NewPoolsCommand creates the pools command.
func NewPoolsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "pools",
		Short:         "Show rank pool depletion",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPools(rootOpts, cmd)
		},
	}
}

func runPools(opts *RootOptions, cmd *cobra.Command) error {
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

	pools, err := sess.engine.Query().Pools(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "query failed", err)
	}

	if formatter.JSON() {
		return formatter.Success(pools)
	}
	for _, p := range pools {
		state := "open"
		if p.Exhausted {
			state = "exhausted"
		}
		fmt.Fprintf(formatter.Writer, "%s: %d/%d issued, %d remaining (%s)\n",
			p.Pool, p.Issued, p.MaxRank, p.Remaining, state)
	}
	return nil
}

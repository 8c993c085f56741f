package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/laurels/internal/engine"
	"github.com/roach88/laurels/internal/store"
)

// CorrectOptions holds flags for admin correct.
type CorrectOptions struct {
	*RootOptions
	User   string
	Badge  string
	Action string
	Actor  string
	Reason string
}

// NewAdminCommand creates the admin command group.
func NewAdminCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative operations",
	}
	cmd.AddCommand(newCorrectCommand(rootOpts))
	return cmd
}

func newCorrectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CorrectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "correct",
		Short: "Grant or revoke an award out of band",
		Long: `Grant or revoke one award and record who did it and why.

Revoking a rank badge does not return the rank to its pool.

Example:
  laurels admin correct --user alice --badge founder_first --action revoke \
    --actor ops@example.com --reason "duplicate account"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCorrect(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "user id (required)")
	cmd.Flags().StringVar(&opts.Badge, "badge", "", "badge id (required)")
	cmd.Flags().StringVar(&opts.Action, "action", "", "grant or revoke (required)")
	cmd.Flags().StringVar(&opts.Actor, "actor", "", "who is making the correction (required)")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "why the correction is made (required)")
	for _, name := range []string{"user", "badge", "action", "actor", "reason"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

func runCorrect(opts *CorrectOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	action := store.CorrectionAction(opts.Action)
	if action != store.CorrectionGrant && action != store.CorrectionRevoke {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid action %q: must be grant or revoke", opts.Action))
	}

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

	c, err := sess.engine.Correct(ctx, engine.CorrectionRequest{
		UserID:  opts.User,
		BadgeID: opts.Badge,
		Action:  action,
		Actor:   opts.Actor,
		Reason:  opts.Reason,
	})
	if err != nil {
		_ = formatter.Error("E301", err.Error(), nil)
		return WrapExitError(ExitFailure, "correction failed", err)
	}

	if formatter.JSON() {
		return formatter.Success(map[string]any{
			"correctionId": c.CorrectionID,
			"userId":       c.UserID,
			"badgeId":      c.BadgeID,
			"action":       c.Action,
		})
	}
	fmt.Fprintf(formatter.Writer, "%s %s for %s (correction %s)\n", c.Action, c.BadgeID, c.UserID, c.CorrectionID)
	return nil
}

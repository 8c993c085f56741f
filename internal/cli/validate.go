package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/laurels/internal/catalog"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool              `json:"valid"`
	Version string            `json:"version,omitempty"`
	Hash    string            `json:"hash,omitempty"`
	Badges  int               `json:"badges,omitempty"`
	Errors  []ValidationIssue `json:"errors,omitempty"`
}

// ValidationIssue is one catalog integrity violation.
type ValidationIssue struct {
	Code    string `json:"code"`
	Subject string `json:"subject,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a catalog's integrity rules",
		Long: `Load a CUE catalog and check it against the catalog schema and every
integrity rule: one qualification per badge, contiguous rank coverage for
each pool, non-overlapping ranges, and points that never fall as rarity
rises. Without --catalog the embedded default catalog is checked.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd)
		},
	}
}

func runValidate(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}

	source := cfg.Catalog
	if source == "" {
		source = "embedded default"
	}
	formatter.VerboseLog("Validating catalog: %s", source)

	c, err := loadCatalog(cfg.Catalog)
	if err != nil {
		issues := toIssues(err)
		if len(issues) == 0 {
			_ = formatter.Error("E200", err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to load catalog", err)
		}
		return outputValidationIssues(formatter, issues)
	}

	if formatter.JSON() {
		return formatter.Success(ValidationResult{
			Valid:   true,
			Version: c.Version,
			Hash:    c.Hash,
			Badges:  len(c.Badges()),
		})
	}
	fmt.Fprintf(formatter.Writer, "✓ Catalog %s valid (%d badges, %d pools)\n",
		c.Version, len(c.Badges()), len(c.Pools()))
	return nil
}

func toIssues(err error) []ValidationIssue {
	var issues []ValidationIssue
	for _, ie := range catalog.IntegrityErrors(err) {
		issue := ValidationIssue{Code: ie.Code, Subject: ie.Badge, Message: ie.Message}
		if ie.Pos.IsValid() {
			issue.Line = ie.Pos.Line()
		}
		issues = append(issues, issue)
	}
	return issues
}

func outputValidationIssues(formatter *OutputFormatter, issues []ValidationIssue) error {
	failure := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))

	if formatter.JSON() {
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: issues},
			Error:  &CLIError{Code: issues[0].Code, Message: issues[0].Message},
		}); err != nil {
			return err
		}
		return failure
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, is := range issues {
		if is.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", is.Line)
		}
		if is.Subject != "" {
			fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", is.Code, is.Subject, is.Message)
		} else {
			fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", is.Code, is.Message)
		}
	}
	return failure
}

// NewCatalogCommand creates the catalog command.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Print the catalog's pools and badges",
		Long: `Print every pool and badge of the catalog in declaration order.

Example:
  laurels catalog
  laurels catalog --catalog ./catalog.cue --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalog(rootOpts, cmd)
		},
	}
}

// CatalogView is the JSON rendering of a catalog.
type CatalogView struct {
	Version      string      `json:"version"`
	Hash         string      `json:"hash"`
	PointsMetric string      `json:"pointsMetric,omitempty"`
	Pools        []PoolView  `json:"pools"`
	Badges       []BadgeView `json:"badges"`
}

// PoolView is one pool of a CatalogView.
type PoolView struct {
	Name     string   `json:"name"`
	MaxRank  int64    `json:"maxRank"`
	Eligible []string `json:"eligible"`
}

// BadgeView is one badge of a CatalogView.
type BadgeView struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Category      string `json:"category"`
	Rarity        string `json:"rarity"`
	Points        int64  `json:"points"`
	Qualification string `json:"qualification"`
}

func runCatalog(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	c, err := loadCatalog(cfg.Catalog)
	if err != nil {
		_ = formatter.Error("E200", err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load catalog", err)
	}

	if formatter.JSON() {
		return formatter.Success(viewCatalog(c))
	}
	writeCatalogText(formatter.Writer, c)
	return nil
}

func viewCatalog(c *catalog.Catalog) CatalogView {
	v := CatalogView{Version: c.Version, Hash: c.Hash, PointsMetric: c.PointsMetric}
	for _, p := range c.Pools() {
		v.Pools = append(v.Pools, PoolView{Name: p.Name, MaxRank: p.MaxRank, Eligible: p.Eligible})
	}
	for _, b := range c.Badges() {
		v.Badges = append(v.Badges, BadgeView{
			ID:            b.ID,
			Name:          b.Name,
			Category:      string(b.Category),
			Rarity:        b.Rarity.String(),
			Points:        b.Points,
			Qualification: fmt.Sprint(b.Qualification),
		})
	}
	return v
}

// writeCatalogText renders the catalog for humans. The hash is left out so
// the output only changes when the definitions do.
func writeCatalogText(w io.Writer, c *catalog.Catalog) {
	fmt.Fprintf(w, "catalog %s", c.Version)
	if c.PointsMetric != "" {
		fmt.Fprintf(w, " (points metric: %s)", c.PointsMetric)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "pools:")
	for _, p := range c.Pools() {
		fmt.Fprintf(w, "  %s: max_rank %d, eligible %s\n", p.Name, p.MaxRank, strings.Join(p.Eligible, ","))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "badges:")
	for _, b := range c.Badges() {
		fmt.Fprintf(w, "  %s: %s [%s, %s, %d pts] %v\n",
			b.ID, b.Name, b.Category, b.Rarity, b.Points, b.Qualification)
	}
}

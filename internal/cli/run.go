package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/laurels/internal/engine"
)

// maxEventLine bounds one JSONL event.
const maxEventLine = 1 << 20

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Users   string
	Events  string
	Workers int
}

// RunSummary counts the terminal states reached by an ingest.
type RunSummary struct {
	Events       int `json:"events"`
	Malformed    int `json:"malformed"`
	Committed    int `json:"committed"`
	Rejected     int `json:"rejected"`
	Duplicate    int `json:"duplicate"`
	DeadLettered int `json:"deadLettered"`
	Granted      int `json:"granted"`
}

func (s *RunSummary) add(out engine.Outcome) {
	switch out.State {
	case engine.StateCommitted:
		s.Committed++
	case engine.StateRejected:
		s.Rejected++
	case engine.StateDuplicate:
		s.Duplicate++
	case engine.StateDeadLettered:
		s.DeadLettered++
	}
	s.Granted += len(out.Granted)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest activity events",
		Long: `Ingest JSON Lines activity events and award badges.

Each line is one event:
  {"eventId":"e1","userId":"alice","type":"project_completed","delta":1,"occurredAt":"2024-01-01T00:00:00Z"}

Events are dispatched by a pool of workers. Rank and award invariants hold
in the database, so several run processes may share one database. Pool
depletion is logged on the pool_report cron schedule.

Example:
  laurels run --db ./laurels.db --users ./users.yaml --events ./events.jsonl
  tail -f events.jsonl | laurels run --users ./users.yaml --workers 8`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Users, "users", "", "path to users file (YAML or JSON)")
	cmd.Flags().StringVar(&opts.Events, "events", "-", "path to JSONL events file, - for stdin")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "number of dispatch workers (overrides config)")

	return cmd
}

func runIngest(opts *RunOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("users") {
		cfg.Users = opts.Users
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = opts.Workers
	}
	if cfg.Workers < 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("workers must be at least 1, got %d", cfg.Workers))
	}
	if cfg.Users == "" {
		return NewExitError(ExitCommandError, "a users file is required (--users or LAURELS_USERS)")
	}

	dir, err := engine.LoadDirectoryFile(cfg.Users)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load users", err)
	}

	events, closeEvents, err := openEvents(opts.Events, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open events", err)
	}
	defer closeEvents()

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sess, err := opts.openSession(ctx, cmd, cfg, dir)
	if err != nil {
		return err
	}
	defer sess.Close()
	log := sess.logger
	log.Info("engine ready",
		"db", cfg.Database,
		"catalog", sess.engine.Catalog().Version,
		"users", dir.Len(),
		"workers", cfg.Workers)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.PoolReport != "" {
		stop, err := schedulePoolReport(sess.engine.Query(), cfg.PoolReport, log)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid pool report schedule", err)
		}
		defer stop()
	}

	summary, err := ingest(ctx, sess.engine, events, cfg.Workers, log)
	if err != nil {
		return WrapExitError(ExitFailure, "ingest stopped", err)
	}
	reportPools(ctx, sess.engine.Query(), log)

	if formatter.JSON() {
		if err := formatter.Success(summary); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(formatter.Writer,
			"%d events: %d committed, %d rejected, %d duplicate, %d dead-lettered, %d malformed; %d badges granted\n",
			summary.Events, summary.Committed, summary.Rejected, summary.Duplicate,
			summary.DeadLettered, summary.Malformed, summary.Granted)
	}

	if summary.DeadLettered > 0 || summary.Malformed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d event(s) dead-lettered, %d malformed", summary.DeadLettered, summary.Malformed))
	}
	return nil
}

func openEvents(path string, stdin io.Reader) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

// ingest reads JSONL events from r and dispatches them on workers
// goroutines. It returns early only if reading fails or a dispatch returns
// an error (context cancelled, directory or dead-letter failure).
func ingest(ctx context.Context, eng *engine.Engine, r io.Reader, workers int, log *slog.Logger) (RunSummary, error) {
	var (
		mu      sync.Mutex
		summary RunSummary
	)

	g, gctx := errgroup.WithContext(ctx)
	queue := make(chan engine.Event, workers)

	g.Go(func() error {
		defer close(queue)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)
		line := 0
		for scanner.Scan() {
			line++
			raw := scanner.Bytes()
			if len(raw) == 0 {
				continue
			}
			var ev engine.Event
			if err := json.Unmarshal(raw, &ev); err != nil {
				log.Warn("malformed event", "line", line, "error", err)
				mu.Lock()
				summary.Events++
				summary.Malformed++
				mu.Unlock()
				continue
			}
			select {
			case queue <- ev:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read events: %w", err)
		}
		return nil
	})

	for range workers {
		g.Go(func() error {
			for ev := range queue {
				out, err := eng.Dispatch(gctx, ev)
				if err != nil {
					return err
				}
				mu.Lock()
				summary.Events++
				summary.add(out)
				mu.Unlock()
			}
			return nil
		})
	}

	err := g.Wait()
	return summary, err
}

// schedulePoolReport logs pool depletion on schedule until stop is called.
func schedulePoolReport(q *engine.Query, schedule string, log *slog.Logger) (stop func(), err error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		reportPools(context.Background(), q, log)
	}); err != nil {
		return nil, err
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}

func reportPools(ctx context.Context, q *engine.Query, log *slog.Logger) {
	pools, err := q.Pools(ctx)
	if err != nil {
		log.Error("pool report failed", "error", err)
		return
	}
	for _, p := range pools {
		log.Info("pool status",
			"pool", p.Pool,
			"issued", p.Issued,
			"max_rank", p.MaxRank,
			"remaining", p.Remaining,
			"exhausted", p.Exhausted)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/phase-orchestrator/internal/agent"
	"github.com/hochfrequenz/phase-orchestrator/internal/ciwatch"
	"github.com/hochfrequenz/phase-orchestrator/internal/config"
	"github.com/hochfrequenz/phase-orchestrator/internal/domain"
	"github.com/hochfrequenz/phase-orchestrator/internal/execx"
	"github.com/hochfrequenz/phase-orchestrator/internal/logging"
	"github.com/hochfrequenz/phase-orchestrator/internal/mergectl"
	"github.com/hochfrequenz/phase-orchestrator/internal/notify"
	"github.com/hochfrequenz/phase-orchestrator/internal/observer"
	"github.com/hochfrequenz/phase-orchestrator/internal/orchestrator"
	"github.com/hochfrequenz/phase-orchestrator/internal/prompts"
	"github.com/hochfrequenz/phase-orchestrator/internal/review"
	"github.com/hochfrequenz/phase-orchestrator/internal/runstore"
	"github.com/hochfrequenz/phase-orchestrator/internal/schedule"
	"github.com/hochfrequenz/phase-orchestrator/internal/updater"
	"github.com/hochfrequenz/phase-orchestrator/internal/workspace"
	"github.com/hochfrequenz/phase-orchestrator/tui"
	"github.com/hochfrequenz/phase-orchestrator/web/api"
)

var serveAddr string

func init() {
	runCmd := &cobra.Command{
		Use:   "run [START_PHASE] [MAX_ITERATIONS]",
		Short: "Run all phases from START_PHASE (default: the first)",
		Args:  cobra.MaximumNArgs(2),
		RunE:  runRun,
	}
	rootCmd.AddCommand(runCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last recorded outcome of every phase",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	phasesCmd := &cobra.Command{
		Use:   "phases",
		Short: "List the configured phases in run order",
		RunE:  runPhases,
	}
	rootCmd.AddCommand(phasesCmd)

	tuiCmd := &cobra.Command{
		Use:   "tui [START_PHASE] [MAX_ITERATIONS]",
		Short: "Run all phases with a live dashboard",
		Args:  cobra.MaximumNArgs(2),
		RunE:  runTUI,
	}
	rootCmd.AddCommand(tuiCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve run history and a live event stream over HTTP",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run unattended on the configured cron schedule",
		RunE:  runSchedule,
	}
	rootCmd.AddCommand(scheduleCmd)

	doctorCmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the environment can run the pipeline",
		RunE:  runDoctor,
	}
	rootCmd.AddCommand(doctorCmd)

	upgradeCmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Update phase-orch to the latest release",
		RunE:  runUpgrade,
	}
	rootCmd.AddCommand(upgradeCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

// parsePositionals reads the optional START_PHASE and MAX_ITERATIONS
// arguments shared by run and tui.
func parsePositionals(args []string) (startPhase string, maxIterations int, err error) {
	if len(args) > 0 {
		startPhase = args[0]
	}
	if len(args) > 1 {
		maxIterations, err = strconv.Atoi(args[1])
		if err != nil || maxIterations < 1 {
			return "", 0, fmt.Errorf("MAX_ITERATIONS must be a positive integer, got %q", args[1])
		}
	}
	return startPhase, maxIterations, nil
}

// preflight verifies the tooling the pipeline shells out to. A missing
// binary fails the run before any phase starts.
func preflight(cfg *config.Config) error {
	for _, bin := range []string{"git", "gh", cfg.Agent.Command} {
		if !execx.LookPath(bin) {
			return fmt.Errorf("%s not found on PATH (see phase-orch doctor)", bin)
		}
	}
	return nil
}

// buildPipeline wires the orchestrator from config. echo receives log
// output in addition to the log file; pass nil to log to file only.
func buildPipeline(cfg *config.Config, echo *os.File, bus *observer.Bus) (*orchestrator.Orchestrator, *runstore.Store, *logging.Logger, error) {
	var log *logging.Logger
	var err error
	if echo != nil {
		log, err = logging.NewWithEcho(cfg.General.LogPath, echo)
	} else {
		log, err = logging.New(cfg.General.LogPath)
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening log: %w", err)
	}

	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		log.Warnf("run history unavailable: %v", err)
		store = nil
	}

	run := execx.Local{}
	gate := review.NewGate(cfg.General.Remote, cfg.General.Trunk, cfg.CI.PushBackoff(), run, log)
	loader := prompts.DefaultLoader(cfg.General.RepoRoot)
	agentRunner := agent.NewRunner(cfg.Agent.Command, cfg.General.Remote, cfg.General.Trunk, cfg.General.ProgressFile, loader, run, log)

	watcher := ciwatch.New(ciwatch.Config{
		GracePeriod:          cfg.CI.GracePeriod(),
		RegistrationRounds:   cfg.CI.RegistrationRounds,
		RegistrationInterval: cfg.CI.RegistrationInterval(),
		MinCheckRuns:         cfg.CI.MinCheckRuns,
		WatchDeadline:        cfg.CI.WatchDeadline(),
		LivenessTick:         cfg.CI.LivenessTick(),
		MaxAttempts:          cfg.CI.MaxAttempts,
		FormatCommand:        cfg.CI.FormatCommand,
	}, run, agentRunner, gate, log)
	watcher.OnState = func(attempt int, state domain.CIState) {
		bus.Publish(observer.Event{Kind: observer.KindCIState, Message: fmt.Sprintf("attempt %d: %s", attempt, state)})
	}

	var senders []notify.Sender
	senders = append(senders, notify.NewDesktop(cfg.Notifications.Desktop))
	senders = append(senders, notify.NewSlack(cfg.Notifications.SlackWebhook))
	notifier := notify.NewMulti(log, senders...)

	deps := orchestrator.Deps{
		Workspaces: workspace.NewManager(cfg.General.RepoRoot, cfg.General.WorkspaceDir, cfg.General.Remote, cfg.General.Trunk, run, log),
		Agent:      agentRunner,
		Gate:       gate,
		CI:         watcher,
		Merger:     mergectl.New(cfg.General.RepoRoot, cfg.General.Remote, cfg.General.Trunk, cfg.CI.PrimaryMergeMethod, cfg.CI.FallbackMergeMethod, run, log),
		Runner:     run,
		Log:        log,
		Bus:        bus,
		Notifier:   notifier,
	}
	if store != nil {
		deps.Recorder = store
	}
	return orchestrator.New(cfg, deps), store, log, nil
}

// executeRun drives one full orchestrator run including history
// bookkeeping and exit-code mapping. An unknown start phase fails
// before anything is recorded.
func executeRun(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator, store *runstore.Store, startPhase string, maxIterations int) error {
	if startPhase != "" && domain.FindPhase(cfg.Phases, startPhase) == -1 {
		return fmt.Errorf("unknown phase %q", startPhase)
	}
	if store != nil {
		if err := store.StartRun(orch.RunID(), startPhase); err != nil {
			return fmt.Errorf("recording run start: %w", err)
		}
	}

	err := orch.Run(ctx, startPhase, maxIterations)
	code := orch.ExitCode()
	if errors.Is(err, domain.ErrInterrupted) {
		code = 130
	}
	if store != nil {
		store.FinishRun(orch.RunID(), code)
	}
	if err != nil {
		return err
	}
	if code != 0 {
		return errAllSkipped
	}
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	startPhase, maxIterations, err := parsePositionals(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := preflight(cfg); err != nil {
		return err
	}

	bus := observer.NewBus()
	orch, store, log, err := buildPipeline(cfg, os.Stdout, bus)
	if err != nil {
		return err
	}
	defer log.Close()
	if store != nil {
		defer store.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return executeRun(ctx, cfg, orch, store, startPhase, maxIterations)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PHASE\tBRANCH\tLAST OUTCOME\tDETAIL")
	for _, p := range cfg.Phases {
		outcome, reason, err := store.LastOutcome(p.ID)
		if err != nil {
			return err
		}
		display := string(outcome)
		if display == "" {
			display = "never run"
		}
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Branch, display, reason)
	}
	return w.Flush()
}

func runPhases(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tPHASE\tBRANCH\tITERATIONS\tTASK LIST\tDESCRIPTION")
	for i, p := range cfg.Phases {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n", i+1, p.ID, p.Branch, p.MaxIterations, p.TaskList, p.Description)
	}
	return w.Flush()
}

func runTUI(cmd *cobra.Command, args []string) error {
	startPhase, maxIterations, err := parsePositionals(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := preflight(cfg); err != nil {
		return err
	}

	bus := observer.NewBus()
	// Log to file only; stdout belongs to the dashboard.
	orch, store, log, err := buildPipeline(cfg, nil, bus)
	if err != nil {
		return err
	}
	defer log.Close()
	if store != nil {
		defer store.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events, cancel := bus.Subscribe()
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- executeRun(ctx, cfg, orch, store, startPhase, maxIterations) }()

	p := tea.NewProgram(tui.NewModel(cfg.Phases, events), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return err
	}
	stop() // quitting the dashboard interrupts a still-live run
	return <-runErr
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := logging.NewWithEcho(cfg.General.LogPath, os.Stdout)
	if err != nil {
		return err
	}
	defer log.Close()

	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	addr := serveAddr
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(store, cfg.Phases, observer.NewBus(), log)
	return server.Run(ctx, addr)
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := schedule.Validate(cfg.Schedule.Cron); err != nil {
		return err
	}
	if err := preflight(cfg); err != nil {
		return err
	}

	log, err := logging.NewWithEcho(cfg.General.LogPath, os.Stdout)
	if err != nil {
		return err
	}
	defer log.Close()

	sched, err := schedule.New(cfg.Schedule.Cron, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sched.Run(ctx, func(runCtx context.Context) error {
			bus := observer.NewBus()
			orch, store, runLog, err := buildPipeline(cfg, nil, bus)
			if err != nil {
				return err
			}
			defer runLog.Close()
			if store != nil {
				defer store.Close()
			}
			return executeRun(runCtx, cfg, orch, store, "", 0)
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func runUpgrade(cmd *cobra.Command, args []string) error {
	u := updater.New()
	latest, err := u.Latest()
	if err != nil {
		return err
	}
	if !updater.NeedsUpdate(version, latest) {
		fmt.Printf("phase-orch %s is up to date\n", version)
		return nil
	}

	fmt.Printf("updating %s -> %s\n", version, latest)
	if err := u.Apply(latest); err != nil {
		return err
	}
	fmt.Printf("updated to %s\n", latest)
	return nil
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	type check struct {
		name string
		ok   bool
		note string
	}
	var checks []check

	for _, bin := range []string{"git", "gh", cfg.Agent.Command} {
		checks = append(checks, check{
			name: bin + " on PATH",
			ok:   execx.LookPath(bin),
			note: "install it or fix agent.command",
		})
	}

	if execx.LookPath("gh") {
		out, authErr := execx.Local{}.Run("", "gh", "auth", "status")
		note := "authenticated"
		if authErr != nil {
			note = strings.TrimSpace(string(out))
		}
		checks = append(checks, check{name: "gh authenticated", ok: authErr == nil, note: note})
	}

	_, statErr := os.Stat(cfg.General.RepoRoot)
	checks = append(checks, check{
		name: "repo root exists",
		ok:   statErr == nil,
		note: cfg.General.RepoRoot,
	})

	gitDir := cfg.General.RepoRoot + "/.git"
	_, gitErr := os.Stat(gitDir)
	checks = append(checks, check{
		name: "repo root is a git checkout",
		ok:   gitErr == nil,
		note: gitDir,
	})

	phaseErr := domain.Validate(cfg.Phases)
	note := fmt.Sprintf("%d phase(s)", len(cfg.Phases))
	if phaseErr != nil {
		note = phaseErr.Error()
	}
	checks = append(checks, check{name: "phase list valid", ok: phaseErr == nil, note: note})

	if cfg.Schedule.Cron != "" {
		cronErr := schedule.Validate(cfg.Schedule.Cron)
		note := cfg.Schedule.Cron
		if cronErr != nil {
			note = cronErr.Error()
		}
		checks = append(checks, check{name: "cron expression valid", ok: cronErr == nil, note: note})
	}

	failed := 0
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, c := range checks {
		mark := "ok"
		if !c.ok {
			mark = "FAIL"
			failed++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", mark, c.name, c.note)
	}
	w.Flush()

	if failed > 0 {
		return fmt.Errorf("%d preflight check(s) failed", failed)
	}
	return nil
}

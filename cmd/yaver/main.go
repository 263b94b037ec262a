package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"yaver/internal/config"
	"yaver/internal/engine"
	"yaver/internal/forge"
	"yaver/internal/llm"
	"yaver/internal/logging"
	"yaver/internal/retrieval"
	"yaver/internal/task"
	"yaver/internal/vcs"
)

const version = "0.4.0"

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string

	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "yaver",
	Short: "yaver - autonomous software engineering agent",
	Long: `yaver plans a development goal into a task graph, executes the tasks
with an LLM, applies the generated code to a git worktree, and reacts
to pull request feedback until the goal is done.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if workspace == "" {
			workspace, err = os.Getwd()
			if err != nil {
				return err
			}
		}
		return logging.Initialize(workspace)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Close()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// runCmd executes a full session for one goal.
var runCmd = &cobra.Command{
	Use:   "run [goal]",
	Short: "Plan and execute a development goal",
	Long: `Plans the goal into subtasks, then iterates: select the highest
priority ready task, generate the change, apply it to the worktree,
and watch any opened pull requests for feedback.

Example:
  yaver run "add a /healthz endpoint and open a pull request"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSession,
}

// planCmd prints the decomposition without executing anything.
var planCmd = &cobra.Command{
	Use:   "plan [goal]",
	Short: "Show the task decomposition for a goal without executing it",
	Args:  cobra.MinimumNArgs(1),
	RunE:  planOnly,
}

// reviewCmd posts an auto-review on a pull request.
var reviewCmd = &cobra.Command{
	Use:   "review [pr-number]",
	Short: "Post a model-written review on a pull request",
	Args:  cobra.ExactArgs(1),
	RunE:  reviewPR,
}

// inboxCmd lists the work waiting on the agent's forge account.
var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "List mentions, assigned issues and review requests for the agent",
	Args:  cobra.NoArgs,
	RunE:  showInbox,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the yaver version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("yaver %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".yaver/config.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Working directory (default: cwd)")

	rootCmd.AddCommand(runCmd, planCmd, reviewCmd, inboxCmd, versionCmd)
}

// loadConfig reads and validates the configuration relative to the
// workspace.
func loadConfig() (*config.Config, error) {
	path := configPath
	if !strings.HasPrefix(path, "/") {
		path = workspace + "/" + path
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// buildForge creates the forge client and resolves the agent identity,
// or returns nils when no forge is configured.
func buildForge(ctx context.Context, cfg *config.Config) (forge.Client, string, error) {
	if cfg.Forge.BaseURL == "" && cfg.Forge.Provider != "github" {
		return nil, "", nil
	}
	client, err := forge.NewFromConfig(cfg)
	if err != nil {
		return nil, "", err
	}
	if err := client.Health(ctx); err != nil {
		logger.Warn("forge health check failed, continuing without forge", zap.Error(err))
		return nil, "", nil
	}
	agent, err := forge.ResolveIdentity(ctx, client, cfg.Forge.AgentUsername)
	if err != nil {
		return nil, "", err
	}
	return client, agent, nil
}

func runSession(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	goal := strings.Join(args, " ")
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	generator, err := llm.NewFromConfig(ctx, cfg)
	if err != nil {
		return err
	}

	forgeClient, agent, err := buildForge(ctx, cfg)
	if err != nil {
		return err
	}
	if agent == "" {
		agent = "yaver"
	}

	shellTimeout, err := cfg.ShellTimeout()
	if err != nil {
		return err
	}
	git := vcs.NewGit(workspace, cfg.Git.Remote, shellTimeout)

	var memory *retrieval.MemoryStore
	if cfg.Retrieval.DatabasePath != "" {
		memory, err = retrieval.NewMemoryStore(workspace + "/" + cfg.Retrieval.DatabasePath)
		if err != nil {
			logger.Warn("memory store unavailable", zap.Error(err))
		} else {
			defer memory.Close()
		}
	}

	planner := engine.NewPlanner(generator, cfg)
	var retriever retrieval.ContextRetriever
	var memWriter engine.Memory
	if memory != nil {
		retriever = memory
		memWriter = memory
	}
	executor := engine.NewExecutor(generator, retriever, cfg.Retrieval.TopK, workspace)
	applier := engine.NewApplier(git, generator, workspace, cfg.Git.DefaultBranch, cfg.Engine.SyntaxRepairAttempts)

	var monitor *engine.Monitor
	if forgeClient != nil {
		monitor = engine.NewMonitor(forgeClient)
	}

	driver := engine.NewDriver(cfg, planner, executor, applier, monitor, forgeClient, git, memWriter)
	state := engine.NewState(task.NewID(), goal, agent)

	logger.Info("starting session",
		zap.String("session", state.SessionID),
		zap.String("goal", goal),
		zap.String("agent", agent))

	if err := driver.Run(ctx, state); err != nil {
		return err
	}

	fmt.Printf("Session %s finished.\n", state.SessionID)
	for _, t := range state.Tasks {
		fmt.Printf("  [%s] %s %s\n", t.Status, t.ShortID(), t.Title)
	}
	return nil
}

func planOnly(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	goal := strings.Join(args, " ")
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	generator, err := llm.NewFromConfig(ctx, cfg)
	if err != nil {
		return err
	}

	planner := engine.NewPlanner(generator, cfg)
	dec := planner.Plan(ctx, goal, "")

	fmt.Printf("Goal: %s\n", dec.MainTask)
	for i, st := range dec.Subtasks {
		prio := task.ParsePriority(dec.Priorities[st])
		fmt.Printf("  %d. [%s] %s\n", i+1, prio, st)
		for _, dep := range dec.Dependencies[st] {
			fmt.Printf("       depends on: %s\n", dep)
		}
	}
	return nil
}

func reviewPR(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var number int
	if _, err := fmt.Sscanf(args[0], "%d", &number); err != nil {
		return fmt.Errorf("invalid PR number %q", args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	generator, err := llm.NewFromConfig(ctx, cfg)
	if err != nil {
		return err
	}
	forgeClient, _, err := buildForge(ctx, cfg)
	if err != nil {
		return err
	}
	if forgeClient == nil {
		return fmt.Errorf("review requires a configured forge")
	}

	shellTimeout, err := cfg.ShellTimeout()
	if err != nil {
		return err
	}
	git := vcs.NewGit(workspace, cfg.Git.Remote, shellTimeout)

	reviewer := engine.NewReviewer(forgeClient, generator, git)
	return reviewer.Review(ctx, number)
}

func showInbox(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	forgeClient, agent, err := buildForge(ctx, cfg)
	if err != nil {
		return err
	}
	if forgeClient == nil {
		return fmt.Errorf("inbox requires a configured forge")
	}

	mentions, err := forgeClient.ListMentions(ctx, agent)
	if err != nil {
		return fmt.Errorf("failed to list mentions: %w", err)
	}
	assigned, err := forgeClient.ListAssignedIssues(ctx, agent)
	if err != nil {
		return fmt.Errorf("failed to list assigned issues: %w", err)
	}
	reviews, err := forgeClient.ListReviewRequests(ctx, agent)
	if err != nil {
		return fmt.Errorf("failed to list review requests: %w", err)
	}

	fmt.Printf("Inbox for %s\n\n", agent)
	fmt.Printf("Mentions (%d):\n", len(mentions))
	for _, is := range mentions {
		fmt.Printf("  #%d %s (by %s)\n", is.Number, is.Title, is.Author.Login)
	}
	fmt.Printf("\nAssigned issues (%d):\n", len(assigned))
	for _, is := range assigned {
		fmt.Printf("  #%d %s\n", is.Number, is.Title)
	}
	fmt.Printf("\nReview requests (%d):\n", len(reviews))
	for _, pr := range reviews {
		fmt.Printf("  #%d %s (%s -> %s)\n", pr.Number, pr.Title, pr.HeadBranch, pr.BaseBranch)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

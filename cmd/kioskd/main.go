// Package main is the CLI entry point for kioskd.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/kiosk/internal/agent"
	"github.com/eliteGoblin/focusd/kiosk/internal/clock"
	"github.com/eliteGoblin/focusd/kiosk/internal/config"
	"github.com/eliteGoblin/focusd/kiosk/internal/connection"
	"github.com/eliteGoblin/focusd/kiosk/internal/infra"
	"github.com/eliteGoblin/focusd/kiosk/internal/lockdown"
	"github.com/eliteGoblin/focusd/kiosk/internal/policy"
	"github.com/eliteGoblin/focusd/kiosk/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kioskd",
	Short: "Kiosk agent - locks a workstation to controller-granted sessions",
	Long: `kioskd keeps this computer behind a lock screen until the controller
starts a session. During a session only the allowed applications can be
launched, and system tools such as the shell and task manager are hidden.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the kiosk agent in the foreground",
	Long: `Connects to the controller and enforces sessions until stopped.
On first run the controller address is asked for once and saved.`,
	RunE: runAgent,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running agent's status",
	RunE:  runStatus,
}

var controllerCmd = &cobra.Command{
	Use:   "controller",
	Short: "Show or change the saved controller address",
}

var controllerSetCmd = &cobra.Command{
	Use:   "set <ip>",
	Short: "Save the controller address",
	Args:  cobra.ExactArgs(1),
	RunE:  runControllerSet,
}

var controllerShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the saved controller address",
	RunE:  runControllerShow,
}

var blockedCmd = &cobra.Command{
	Use:   "blocked",
	Short: "List processes whose windows are always hidden",
	RunE:  runBlocked,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath  string
	dataDir     string
	secureStore bool
	profileID   string
	jsonOutput  bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override the data directory")
	rootCmd.PersistentFlags().BoolVar(&secureStore, "secure-store", false, "Keep settings in an encrypted database")
	rootCmd.PersistentFlags().StringVar(&profileID, "profile", "", "Controller profile (plain, login)")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	controllerCmd.AddCommand(controllerSetCmd)
	controllerCmd.AddCommand(controllerShowCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(controllerCmd)
	rootCmd.AddCommand(blockedCmd)
	rootCmd.AddCommand(versionCmd)
}

// environment is the resolved configuration shared by every command.
type environment struct {
	execMode *infra.ExecModeConfig
	config   *config.Config
}

func loadEnvironment(cmd *cobra.Command) (*environment, error) {
	execMode := infra.DetectExecMode()

	cfg, err := loadConfig(configPath, execMode.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Flags override the file.
	if cmd.Flags().Changed("profile") {
		cfg.Profile = profileID
	}
	if cmd.Flags().Changed("secure-store") {
		cfg.Storage.Secure = secureStore
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.Storage.DataDir = dataDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if cfg.Storage.DataDir != "" {
		execMode = infra.NewExecModeConfigWithDataDir(cfg.Storage.DataDir)
	}
	if err := os.MkdirAll(execMode.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return &environment{execMode: execMode, config: cfg}, nil
}

func runAgent(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	cfg := env.config

	logger := createLogger(env.execMode, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	pm := infra.NewProcessManager()
	recorder := infra.NewFileStatusRegistry(env.execMode.DataDir)

	// Refuse to start a second agent on the same data directory.
	if st, err := recorder.Load(); err == nil && st != nil && st.PID != os.Getpid() && pm.IsRunning(st.PID) {
		return fmt.Errorf("kioskd is already running (pid %d)", st.PID)
	}

	settings, err := infra.OpenSettings(env.execMode.DataDir, cfg.Storage.Secure)
	if err != nil {
		return fmt.Errorf("failed to open settings: %w", err)
	}
	defer settings.Close()

	serverIP, err := resolveServerIP(cfg.ServerIP, settings, os.Stdin, os.Stdout)
	if err != nil {
		return err
	}
	agentID, err := ensureAgentID(settings)
	if err != nil {
		return fmt.Errorf("failed to load agent id: %w", err)
	}

	registry := policy.NewRegistry(cfg.LoginCredentials())
	profile, err := registry.Get(cfg.Profile)
	if err != nil {
		return err
	}

	connCfg := cfg.Connection.Apply(profile.ConnectionConfig(serverIP))
	manager := connection.NewManager(
		connCfg,
		&net.Dialer{},
		profile.Handshaker(),
		clock.Real(),
		logger.Named("connection"),
	)

	apps := usecase.NewActiveApps()
	presenter := infra.NewLogPresenter(logger)
	wm := infra.NewWindowManager()
	blocked := policy.BlockList(cfg.Enforcement.IncludeDefaults, cfg.Enforcement.Blocked...)

	enforcer := usecase.NewEnforcer(wm, pm, blocked, apps, presenter, logger.Named("enforcer"))
	launcher := usecase.NewLauncher(infra.NewProcessLauncher(), wm, pm, apps, presenter, clock.Real(), logger.Named("launcher"))

	deps := agent.Deps{
		Connector: manager,
		Enforcer:  enforcer,
		Launcher:  launcher,
		Apps:      apps,
		Presenter: presenter,
		Recorder:  recorder,
		Clock:     clock.Real(),
	}
	if cfg.Enforcement.Lockdown {
		deps.Locker = lockdown.New(lockdown.NewInterceptor(), logger.Named("lockdown"))
	}

	a := agent.New(agent.Config{
		Profile:                  profile.ID(),
		Controller:               connCfg.Address(),
		Version:                  Version,
		AgentID:                  agentID,
		EnforcementInterval:      cfg.Enforcement.Interval,
		ReconnectAfterSessionEnd: profile.ReconnectAfterSessionEnd(),
	}, deps, logger)

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	err = a.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if errors.Is(err, agent.ErrRemoved) {
		fmt.Println("This computer has been removed by the administrator.")
		return nil
	}
	return err
}

func runStatus(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}

	pm := infra.NewProcessManager()
	recorder := infra.NewFileStatusRegistry(env.execMode.DataDir)

	fmt.Println("\n=== kioskd Status ===")
	fmt.Printf("Execution mode: %s\n", env.execMode.Mode)
	fmt.Printf("Data directory: %s\n", env.execMode.DataDir)

	saved, err := savedSettings(env.execMode.DataDir, env.config.Storage.Secure)
	if err != nil {
		fmt.Printf("Saved settings: unreadable (%v)\n", err)
	} else if len(saved) > 0 {
		keys := make([]string, 0, len(saved))
		for k := range saved {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Println("Saved settings:")
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", k, saved[k])
		}
	}

	st, err := recorder.Load()
	if err != nil || st == nil || !pm.IsRunning(st.PID) {
		fmt.Println("Status: NOT RUNNING")
		fmt.Println("\nRun 'kioskd run' to start the agent.")
		return nil
	}

	fmt.Printf("Status: RUNNING (pid %d, version %s)\n", st.PID, st.Version)
	fmt.Printf("Profile: %s\n", st.Profile)
	fmt.Printf("Controller: %s (%s)\n", st.Controller, st.Connection)
	fmt.Printf("Session: %s\n", st.SessionState)
	if st.Remaining != nil {
		fmt.Printf("Remaining: %s\n", (time.Duration(*st.Remaining) * time.Second).String())
	}
	if st.Locked {
		fmt.Println("Screen: locked")
	} else {
		fmt.Println("Screen: unlocked")
	}
	if len(st.ActiveApps) > 0 {
		fmt.Println("\nRunning applications:")
		for _, name := range st.ActiveApps {
			fmt.Printf("  - %s\n", name)
		}
	}
	if st.UpdatedAt > 0 {
		fmt.Printf("\nLast update: %s ago\n", time.Since(time.Unix(st.UpdatedAt, 0)).Round(time.Second))
	}

	fmt.Println("=====================")
	return nil
}

func runControllerSet(cmd *cobra.Command, args []string) error {
	ip := args[0]
	if net.ParseIP(ip) == nil {
		return fmt.Errorf("%q is not a valid IP address", ip)
	}

	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	settings, err := infra.OpenSettings(env.execMode.DataDir, env.config.Storage.Secure)
	if err != nil {
		return fmt.Errorf("failed to open settings: %w", err)
	}
	defer settings.Close()

	if err := settings.Set(infra.KeyServerIP, ip); err != nil {
		return fmt.Errorf("failed to save controller address: %w", err)
	}
	fmt.Printf("Controller address set to %s\n", ip)
	return nil
}

func runControllerShow(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	settings, err := infra.OpenSettings(env.execMode.DataDir, env.config.Storage.Secure)
	if err != nil {
		return fmt.Errorf("failed to open settings: %w", err)
	}
	defer settings.Close()

	if env.config.ServerIP != "" {
		fmt.Printf("%s (from config file)\n", env.config.ServerIP)
		return nil
	}
	ip, ok, err := settings.Get(infra.KeyServerIP)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("No controller address saved. It will be asked for on the next run.")
		return nil
	}
	fmt.Println(ip)
	return nil
}

func runBlocked(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	cfg := env.config

	blocked := policy.BlockList(cfg.Enforcement.IncludeDefaults, cfg.Enforcement.Blocked...)
	names := make([]string, 0, len(blocked))
	for name := range blocked {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("\n=== Blocked Processes ===")
	for _, name := range names {
		fmt.Printf("  - %s\n", name)
	}
	fmt.Printf("\nEnforcement interval: %s\n", cfg.Enforcement.Interval)
	fmt.Println("=========================")
	return nil
}

func createLogger(execMode *infra.ExecModeConfig, level string) *zap.Logger {
	logCfg := zap.NewProductionConfig()
	logCfg.OutputPaths = []string{execMode.LogPath}
	logCfg.ErrorOutputPaths = []string{execMode.LogPath}
	logCfg.EncoderConfig.TimeKey = "time"
	logCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		logCfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	logger, err := logCfg.Build()
	if err != nil {
		// Fall back to stderr if the log file cannot be opened
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		data, _ := json.Marshal(map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
		})
		fmt.Println(string(data))
	} else {
		fmt.Printf("kioskd %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}

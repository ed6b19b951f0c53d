package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/deploytrigger/pkg/apprepo"
	"github.com/cuemby/deploytrigger/pkg/buildsvc"
	"github.com/cuemby/deploytrigger/pkg/changeapi"
	"github.com/cuemby/deploytrigger/pkg/clock"
	"github.com/cuemby/deploytrigger/pkg/deployspec"
	"github.com/cuemby/deploytrigger/pkg/httpapi"
	"github.com/cuemby/deploytrigger/pkg/log"
	"github.com/cuemby/deploytrigger/pkg/metrics"
	"github.com/cuemby/deploytrigger/pkg/reconcile"
	"github.com/cuemby/deploytrigger/pkg/trigger"
	"github.com/cuemby/deploytrigger/pkg/types"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "deploytrigger",
	Short: "Deployment trigger — the control loop that drives an application's CD jobs",
	Long: `deploytrigger decides, for every managed application, which
continuous-delivery jobs (build, system tests, staging tests, production
deploys) should run next, drives an external build service to execute them,
and reconciles completion reports back into each application's declared
change.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"deploytrigger version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", "./data", "Directory for the bbolt application repository")
	rootCmd.PersistentFlags().String("build-service-url", "http://127.0.0.1:8081", "Base URL of the external build service")
	rootCmd.PersistentFlags().String("system-platform-version", "1.0", "The system controller's current platform version")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(triggerChangeCmd)
	rootCmd.AddCommand(cancelChangeCmd)
	rootCmd.AddCommand(forceTriggerCmd)
	rootCmd.AddCommand(jobsToRunCmd)
	rootCmd.AddCommand(loadSpecCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(level),
		JSONOutput: jsonOutput,
	})
}

func openRepo(cmd *cobra.Command) (*apprepo.BoltRepository, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	return apprepo.NewBoltRepository(dataDir)
}

func systemPlatformVersion(cmd *cobra.Command) types.PlatformVersion {
	v, _ := cmd.Flags().GetString("system-platform-version")
	return types.PlatformVersion{Value: v}
}

func buildServiceClient(cmd *cobra.Command) buildsvc.Service {
	baseURL, _ := cmd.Flags().GetString("build-service-url")
	return buildsvc.NewHTTPClient(buildsvc.HTTPClientConfig{BaseURL: baseURL})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the triggering engine sweep loop, completion webhook, and metrics endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		bindAddr, _ := cmd.Flags().GetString("bind-addr")
		sweepInterval, _ := cmd.Flags().GetDuration("sweep-interval")
		pruneAfter, _ := cmd.Flags().GetDuration("prune-after")

		repo, err := openRepo(cmd)
		if err != nil {
			return fmt.Errorf("open application repository: %w", err)
		}
		defer repo.Close()

		system := systemPlatformVersion(cmd)
		build := buildServiceClient(cmd)
		clk := clock.Real{}

		eng := trigger.New(repo, build, clk, system, 8)
		recon := reconcile.New(repo, clk, system)
		api := changeapi.New(repo, eng, clk, system)

		collector := metrics.NewCollector(repo)
		collector.Start()
		defer collector.Stop()

		logger := log.WithComponent("serve")

		stopCh := make(chan struct{})
		go runSweepLoop(eng, sweepInterval, pruneAfter, repo, stopCh)

		server := httpapi.New(recon, api)
		httpServer := &http.Server{Addr: bindAddr, Handler: server.Handler()}
		errCh := make(chan error, 1)
		go func() {
			logger.Info().Str("addr", bindAddr).Msg("http server listening")
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			logger.Info().Msg("shutting down")
		case err := <-errCh:
			logger.Error().Err(err).Msg("http server error")
		}

		close(stopCh)
		return httpServer.Close()
	},
}

func runSweepLoop(eng *trigger.Engine, interval, pruneAfter time.Duration, repo apprepo.Repository, stop <-chan struct{}) {
	logger := log.WithComponent("sweep")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	pruneTicker := time.NewTicker(time.Hour)
	defer pruneTicker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := eng.TriggerReadyJobs(context.Background())
			if err != nil {
				logger.Error().Err(err).Msg("sweep failed")
				continue
			}
			metrics.SweepsTotal.Inc()
			if n > 0 {
				logger.Info().Int("triggered", n).Msg("sweep dispatched jobs")
			}
		case <-pruneTicker.C:
			if err := repo.Prune(pruneAfter, time.Now()); err != nil {
				logger.Warn().Err(err).Msg("prune failed")
			}
		case <-stop:
			return
		}
	}
}

var triggerChangeCmd = &cobra.Command{
	Use:   "trigger-change [applicationId]",
	Short: "Set an application's current change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer repo.Close()

		platformVersion, _ := cmd.Flags().GetString("platform")
		sourceRevision, _ := cmd.Flags().GetString("source-revision")
		buildNumber, _ := cmd.Flags().GetInt("build-number")

		change := types.EmptyChange
		if platformVersion != "" {
			change = change.WithPlatform(types.PlatformVersion{Value: platformVersion})
		}
		if sourceRevision != "" {
			change = change.With(types.ApplicationVersionFrom(sourceRevision, buildNumber))
		}

		system := systemPlatformVersion(cmd)
		clk := clock.Real{}
		eng := trigger.New(repo, buildServiceClient(cmd), clk, system, 8)
		api := changeapi.New(repo, eng, clk, system)

		if err := api.TriggerChange(args[0], change); err != nil {
			return err
		}
		fmt.Printf("change triggered for %s\n", args[0])
		return nil
	},
}

var cancelChangeCmd = &cobra.Command{
	Use:   "cancel-change [applicationId]",
	Short: "Cancel an application's current change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer repo.Close()

		keepApplication, _ := cmd.Flags().GetBool("keep-application-change")
		system := systemPlatformVersion(cmd)
		clk := clock.Real{}
		eng := trigger.New(repo, buildServiceClient(cmd), clk, system, 8)
		api := changeapi.New(repo, eng, clk, system)

		if err := api.CancelChange(args[0], keepApplication); err != nil {
			return err
		}
		fmt.Printf("change canceled for %s\n", args[0])
		return nil
	},
}

var forceTriggerCmd = &cobra.Command{
	Use:   "force-trigger [applicationId] [jobType]",
	Short: "Bypass readiness and trigger a job directly",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer repo.Close()

		zoneEnv, _ := cmd.Flags().GetString("zone-env")
		zoneRegion, _ := cmd.Flags().GetString("zone-region")
		user, _ := cmd.Flags().GetString("user")

		jobType, err := parseJobTypeArg(args[1], zoneEnv, zoneRegion)
		if err != nil {
			return err
		}

		system := systemPlatformVersion(cmd)
		clk := clock.Real{}
		eng := trigger.New(repo, buildServiceClient(cmd), clk, system, 8)
		api := changeapi.New(repo, eng, clk, system)

		dispatched, err := api.ForceTrigger(args[0], jobType, user)
		if err != nil {
			return err
		}
		for _, jt := range dispatched {
			fmt.Printf("dispatched %s\n", jt)
		}
		return nil
	},
}

var jobsToRunCmd = &cobra.Command{
	Use:   "jobs-to-run [applicationId]",
	Short: "Print what the planner would currently emit for an application",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer repo.Close()

		system := systemPlatformVersion(cmd)
		clk := clock.Real{}
		eng := trigger.New(repo, buildServiceClient(cmd), clk, system, 8)
		api := changeapi.New(repo, eng, clk, system)

		byType, err := api.JobsToRun(args[0])
		if err != nil {
			return err
		}
		for jobType, candidates := range byType {
			for _, c := range candidates {
				fmt.Printf("%s: %s (retry=%v)\n", jobType, c.Reason, c.IsRetry)
			}
		}
		return nil
	},
}

func parseJobTypeArg(kind, zoneEnv, zoneRegion string) (types.JobType, error) {
	switch kind {
	case types.KindComponent:
		return types.JobTypeComponent(), nil
	case types.KindSystemTest:
		return types.JobTypeSystemTest(), nil
	case types.KindStagingTest:
		return types.JobTypeStagingTest(), nil
	case types.KindProduction:
		if zoneEnv == "" {
			return types.JobType{}, fmt.Errorf("production job type requires --zone-env")
		}
		return types.JobTypeProduction(types.Zone{Env: zoneEnv, Region: zoneRegion}), nil
	default:
		return types.JobType{}, fmt.Errorf("unknown job type %q", kind)
	}
}

var loadSpecCmd = &cobra.Command{
	Use:   "load-spec [applicationId] [manifest.yaml]",
	Short: "Load a deployment pipeline manifest and register or update an application",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer repo.Close()

		spec, err := deployspec.Load(args[1])
		if err != nil {
			return fmt.Errorf("load deployment spec: %w", err)
		}

		projectID, _ := cmd.Flags().GetString("project-id")
		id := args[0]

		_, ok, err := repo.Get(id)
		if err != nil {
			return err
		}
		if ok {
			return repo.LockOrThrow(id, func(app types.Application) (types.Application, error) {
				app.Spec = spec
				return app, nil
			})
		}

		app := types.Application{
			ID:          id,
			Spec:        spec,
			Jobs:        types.NewDeploymentJobs(),
			Deployments: map[string]types.Deployment{},
			ProjectID:   projectID,
		}
		if err := repo.Store(app); err != nil {
			return err
		}
		fmt.Printf("registered application %s with %d pipeline steps\n", id, len(spec.Steps))
		return nil
	},
}

func init() {
	serveCmd.Flags().String("bind-addr", "127.0.0.1:8080", "HTTP bind address for the completion webhook and metrics")
	serveCmd.Flags().Duration("sweep-interval", 10*time.Second, "Interval between ready-jobs sweeps")
	serveCmd.Flags().Duration("prune-after", 24*time.Hour, "Age at which completed job statuses are pruned")

	triggerChangeCmd.Flags().String("platform", "", "Target platform version")
	triggerChangeCmd.Flags().String("source-revision", "", "Application source revision")
	triggerChangeCmd.Flags().Int("build-number", 0, "Application build number")

	cancelChangeCmd.Flags().Bool("keep-application-change", false, "Keep the application-only portion of the change")

	forceTriggerCmd.Flags().String("zone-env", "", "Zone environment (for production job types)")
	forceTriggerCmd.Flags().String("zone-region", "", "Zone region (for production job types)")
	forceTriggerCmd.Flags().String("user", "cli", "Operator name recorded on the forced trigger")

	loadSpecCmd.Flags().String("project-id", "", "Build-service project id for a newly registered application")
}

package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pemexe/pem/internal/executor"
	"github.com/pemexe/pem/internal/model"
	"github.com/pemexe/pem/internal/registry"
	"github.com/pemexe/pem/internal/service"
)

var (
	flagJobKind   string
	flagJobPython string
	flagJobWith   []string
	flagRunAll    bool
	flagRunsLimit int
)

func init() {
	jobAddCmd.Flags().StringVar(&flagJobKind, "kind", string(model.KindScript), "job kind: script or project")
	jobAddCmd.Flags().StringVar(&flagJobPython, "python", "", "interpreter version handed to uv, e.g. 3.12")
	jobAddCmd.Flags().StringArrayVar(&flagJobWith, "with", nil, "extra dependency for script jobs, repeatable")
	runCmd.Flags().BoolVar(&flagRunAll, "all", false, "run every enabled job")
	runsCmd.Flags().IntVar(&flagRunsLimit, "limit", 20, "number of runs to show")

	jobCmd.AddCommand(jobAddCmd, jobListCmd, jobRemoveCmd, jobEnableCmd, jobDisableCmd)
	serviceCmd.AddCommand(
		serviceInstallCmd, serviceUninstallCmd, serviceStartCmd,
		serviceStopCmd, serviceRestartCmd, serviceStatusCmd,
	)
}

func openRegistry() (*registry.Registry, error) {
	path, err := config.DatabasePath()
	if err != nil {
		return nil, err
	}
	return registry.Open(path)
}

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage registered jobs",
}

var jobAddCmd = &cobra.Command{
	Use:   "add <name> <path>",
	Short: "Register a new job",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := model.NewJobSpec(args[0], flagJobKind, args[1])
		if err != nil {
			return err
		}
		spec.Python = flagJobPython
		spec.Dependencies = flagJobWith

		reg, err := openRegistry()
		if err != nil {
			return err
		}
		if _, err := reg.Add(spec); err != nil {
			return err
		}
		fmt.Printf("job %q added\n", spec.Name)
		return nil
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return err
		}
		jobs, err := reg.List(false)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tKIND\tENABLED\tPATH")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", j.Name, j.Kind, j.Enabled, j.Path)
		}
		return w.Flush()
	},
}

var jobRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a job and its run history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return err
		}
		if err := reg.Remove(args[0]); err != nil {
			return err
		}
		fmt.Printf("job %q removed\n", args[0])
		return nil
	},
}

var jobEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return err
		}
		return reg.SetEnabled(args[0], true)
	},
}

var jobDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return err
		}
		return reg.SetEnabled(args[0], false)
	},
}

var runCmd = &cobra.Command{
	Use:   "run [name]",
	Short: "Run one job now, or all enabled jobs with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		reg, err := openRegistry()
		if err != nil {
			return err
		}
		exe, err := executor.New(config)
		if err != nil {
			return err
		}

		if flagRunAll {
			cfg := config
			cfg.Service.Mode = model.ServiceModeManual
			daemon, err := service.NewDaemon(cfg, reg, exe)
			if err != nil {
				return err
			}
			return daemon.Do(ctx)
		}

		if len(args) != 1 {
			return fmt.Errorf("either a job name or --all is required")
		}
		job, err := reg.Get(args[0])
		if err != nil {
			return err
		}

		res := exe.Execute(ctx, job)
		if err := reg.RecordRun(job.ID, res); err != nil {
			slog.ErrorContext(ctx, "recording run failed", "error", err)
		}
		fmt.Printf("%s: %s (exit code %d, %s)\nlog: %s\n",
			res.JobName, res.Status, res.ExitCode, res.Duration.Round(time.Millisecond), res.LogPath)
		if res.Status == model.StatusFailed {
			return fmt.Errorf("job %s failed", res.JobName)
		}
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs <name>",
	Short: "Show recent executions of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return err
		}
		runs, err := reg.Runs(args[0], flagRunsLimit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tSTATUS\tEXIT\tDURATION\tLOG")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				r.Started.Format("2006-01-02 15:04:05"), r.Status, r.ExitCode,
				r.Duration.Round(time.Millisecond), r.LogPath)
		}
		return w.Flush()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon loop in the foreground; used by the installed service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return err
		}
		exe, err := executor.New(config)
		if err != nil {
			return err
		}
		daemon, err := service.NewDaemon(config, reg, exe)
		if err != nil {
			return err
		}
		return daemon.Do(cmd.Context())
	},
}

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the pem background service",
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and start the pem service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := service.Install(cmd.Context(), config); err != nil {
			return err
		}
		fmt.Println("pem service installed and started")
		return nil
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Uninstall the pem service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := service.Uninstall(cmd.Context(), config); err != nil {
			return err
		}
		fmt.Println("pem service removed")
		return nil
	},
}

var serviceStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the pem service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return service.Start(cmd.Context(), config)
	},
}

var serviceStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the pem service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return service.Stop(cmd.Context(), config)
	},
}

var serviceRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the pem service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := service.Stop(cmd.Context(), config); err != nil {
			return err
		}
		return service.Start(cmd.Context(), config)
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pem service status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := service.Status(cmd.Context(), config)
		if err != nil {
			return err
		}
		fmt.Println(status)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides version of pem",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("pem: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config: %s\n", configPath)
		}
		fmt.Printf("pem: %s\n", info.Main.Version)
		fmt.Printf("go:  %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:  %s\n", s.Value)
			}
		}
	},
}

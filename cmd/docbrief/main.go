package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	composeFile string
	serverURL   string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "docbrief: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docbrief",
		Short: "DocBrief client and development CLI",
		Long: `docbrief uploads documents and submits summarization jobs against a running API,
and wraps the development workflows: the compose stack, tests, migrations and the reconcile sweep.`,
		SilenceUsage: true,
	}
	defaultURL := os.Getenv("DOCBRIEF_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	cmd.PersistentFlags().StringVarP(&composeFile, "compose-file", "f", "docker-compose.yml", "Compose file to use for stack commands")
	cmd.PersistentFlags().StringVar(&serverURL, "server", defaultURL, "Base URL of the DocBrief API")
	cmd.AddCommand(
		newStackCmd(),
		newTestCmd(),
		newRunCmd(),
		newUploadCmd(),
		newSubmitCmd(),
		newStatusCmd(),
		newListCmd(),
		newMigrateCmd(),
		newReconcileCmd(),
	)
	return cmd
}

func newStackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stack",
		Short: "Manage the docker compose stack (postgres, redis, minio, api, worker)",
	}
	cmd.AddCommand(newBuildCmd(), newUpCmd(), newDownCmd(), newLogsCmd())
	return cmd
}

func compose(args ...string) []string {
	return append([]string{"compose", "-f", composeFile}, args...)
}

func newBuildCmd() *cobra.Command {
	var noCache bool
	cmd := &cobra.Command{
		Use:   "build [service...]",
		Short: "Build images via docker compose",
		RunE: func(cmd *cobra.Command, args []string) error {
			composeArgs := compose("build")
			if noCache {
				composeArgs = append(composeArgs, "--no-cache")
			}
			return runCommand(cmd.Context(), "docker", append(composeArgs, args...)...)
		},
	}
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Disable Docker build cache")
	return cmd
}

func newUpCmd() *cobra.Command {
	var (
		detach    bool
		skipBuild bool
		workers   int
	)
	cmd := &cobra.Command{
		Use:   "up [service...]",
		Short: "Start the stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			composeArgs := compose("up")
			if !skipBuild {
				composeArgs = append(composeArgs, "--build")
			}
			if detach {
				composeArgs = append(composeArgs, "-d")
			}
			if workers > 1 {
				composeArgs = append(composeArgs, "--scale", fmt.Sprintf("worker=%d", workers))
			}
			return runCommand(cmd.Context(), "docker", append(composeArgs, args...)...)
		},
	}
	cmd.Flags().BoolVarP(&detach, "detached", "d", true, "Run docker compose in detached mode")
	cmd.Flags().BoolVar(&skipBuild, "skip-build", false, "Skip rebuilding images before starting")
	cmd.Flags().IntVar(&workers, "workers", 1, "Number of distributed worker replicas")
	return cmd
}

func newDownCmd() *cobra.Command {
	var removeVolumes bool
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop the stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			composeArgs := compose("down")
			if removeVolumes {
				composeArgs = append(composeArgs, "-v")
			}
			return runCommand(cmd.Context(), "docker", composeArgs...)
		},
	}
	cmd.Flags().BoolVarP(&removeVolumes, "volumes", "v", false, "Remove stack volumes")
	return cmd
}

func newLogsCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs [service...]",
		Short: "Show logs from stack services",
		RunE: func(cmd *cobra.Command, args []string) error {
			composeArgs := compose("logs")
			if follow {
				composeArgs = append(composeArgs, "--follow")
			}
			return runCommand(cmd.Context(), "docker", append(composeArgs, args...)...)
		},
	}
	cmd.Flags().BoolVar(&follow, "follow", false, "Stream logs continuously")
	return cmd
}

func newTestCmd() *cobra.Command {
	var (
		race        bool
		cover       bool
		databaseURL string
	)
	cmd := &cobra.Command{
		Use:   "test [packages]",
		Short: "Run Go tests (defaults to ./...)",
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgs := args
			if len(pkgs) == 0 {
				pkgs = []string{"./..."}
			}
			goArgs := []string{"test"}
			if race {
				goArgs = append(goArgs, "-race")
			}
			if cover {
				goArgs = append(goArgs, "-cover")
			}
			if databaseURL != "" {
				// enables the postgres repository tests
				os.Setenv("DOCBRIEF_TEST_DATABASE_URL", databaseURL)
			}
			return runCommand(cmd.Context(), "go", append(goArgs, pkgs...)...)
		},
	}
	cmd.Flags().BoolVar(&race, "race", false, "Enable Go race detector")
	cmd.Flags().BoolVar(&cover, "cover", false, "Collect coverage data")
	cmd.Flags().StringVar(&databaseURL, "database-url", "", "Postgres DSN for repository tests")
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the binaries directly with go run",
	}
	cmd.AddCommand(
		newServiceRunner("server", "./cmd/server"),
		newServiceRunner("worker", "./cmd/worker"),
	)
	return cmd
}

func newServiceRunner(name, path string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("go run %s", path),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd.Context(), "go", append([]string{"run", path}, args...)...)
		},
	}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	execCmd := exec.CommandContext(ctx, name, args...)
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	execCmd.Stdin = os.Stdin
	return execCmd.Run()
}

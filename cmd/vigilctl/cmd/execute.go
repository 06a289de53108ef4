package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/forgelight/vigil/internal/action"
	"github.com/forgelight/vigil/internal/cluster"
	"github.com/forgelight/vigil/internal/destination"
	"github.com/forgelight/vigil/internal/input"
	"github.com/forgelight/vigil/internal/model"
	"github.com/forgelight/vigil/internal/runner"
	"github.com/forgelight/vigil/internal/settings"
	"github.com/forgelight/vigil/internal/store"
)

var (
	execCluster  []string
	execUsername string
	execPassword string
	execSettings string
	execDryrun   bool
	execPeriod   time.Duration
)

// executeCmd runs a monitor definition once against a cluster.
var executeCmd = &cobra.Command{
	Use:   "execute <monitor-file>",
	Short: "Execute a monitor definition once",
	Long: `Execute loads a monitor definition (YAML or JSON) and runs it once
against the cluster. By default this is a dryrun: inputs are collected,
triggers evaluated, and action messages rendered, but nothing is published
and no alert is written. The run result is printed as JSON.

The definition is never saved; even with --dryrun=false, alerts are only
persisted when the file carries the id of a saved monitor.

Examples:
  # Preview against a local cluster
  vigilctl execute monitor.yaml

  # Publish for real, looking back 10 minutes
  vigilctl execute monitor.yaml --dryrun=false --period 10m

  # Authenticated cluster; the password is prompted for
  vigilctl execute monitor.yaml --cluster https://search-1:9200 --username ops`,
	Args: cobra.ExactArgs(1),
	RunE: runExecute,
}

func init() {
	executeCmd.Flags().StringSliceVar(&execCluster, "cluster", []string{"http://localhost:9200"}, "cluster node URLs")
	executeCmd.Flags().StringVarP(&execUsername, "username", "u", "", "cluster basic-auth username")
	executeCmd.Flags().StringVarP(&execPassword, "password", "p", "", "cluster basic-auth password (prompted when omitted)")
	executeCmd.Flags().StringVar(&execSettings, "settings", "", "runtime settings file (defaults apply when omitted)")
	executeCmd.Flags().BoolVar(&execDryrun, "dryrun", true, "render actions without publishing")
	executeCmd.Flags().DurationVar(&execPeriod, "period", 0, "lookback window (default: the monitor's schedule interval)")

	rootCmd.AddCommand(executeCmd)
}

func runExecute(cmd *cobra.Command, args []string) error {
	monitor, err := model.LoadMonitorFile(args[0])
	if err != nil {
		return err
	}

	password := execPassword
	if password == "" {
		password = os.Getenv("VIGIL_CLUSTER_PASSWORD")
	}
	if execUsername != "" && password == "" {
		password, err = readPassword()
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}

	runtimeSettings := settings.Default()
	if execSettings != "" {
		runtimeSettings, err = settings.Load(execSettings)
		if err != nil {
			return err
		}
	}
	holder := settings.NewHolder(runtimeSettings.Snapshot())

	client, err := cluster.New(cluster.Config{
		Addresses: execCluster,
		Username:  execUsername,
		Password:  password,
	}, logger)
	if err != nil {
		return err
	}

	alerts := store.NewAlertStore(client, logger)
	destinations := store.NewDestinationStore(client)
	registry := destination.NewRegistry(logger, nil)
	collector := input.NewCollector(client, logger)
	dispatcher := action.NewDispatcher(destinations, registry, logger)
	run := runner.New(client, alerts, collector, dispatcher, holder, logger)

	lookback := execPeriod
	if lookback == 0 {
		lookback, err = monitor.Schedule.Period.Duration()
		if err != nil {
			return fmt.Errorf("schedule: %w", err)
		}
	}
	periodEnd := time.Now()
	periodStart := periodEnd.Add(-lookback)

	result := run.RunMonitor(context.Background(), monitor, periodStart, periodEnd, execDryrun)

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Println(string(data))

	if result.Err != nil {
		return fmt.Errorf("monitor run failed: %w", result.Err)
	}
	return nil
}

// readPassword prompts on a terminal without echo, and falls back to reading
// a line for piped input.
func readPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")

	fd := syscall.Stdin
	if term.IsTerminal(fd) {
		passwordBytes, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(passwordBytes), nil
	}

	reader := bufio.NewReader(os.Stdin)
	password, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(password), nil
}

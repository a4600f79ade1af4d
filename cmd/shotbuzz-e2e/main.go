package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/coherent-in/shotbuzz-e2e/internal/shotbuzz"
	"github.com/coherent-in/shotbuzz-e2e/internal/version"
)

// errSuiteFailed makes the process exit non-zero after the report is printed.
var errSuiteFailed = errors.New("one or more scenarios failed")

var rootCmd = &cobra.Command{
	Use:   "shotbuzz-e2e",
	Short: "ShotBuzz end-to-end test runner",
	Long: `ShotBuzz end-to-end test runner

Drives the ShotBuzz web portal in a real browser as Admin, Head, Supervisor
and Team Lead, creating test shots through the REST API and checking that
each role sees the changes made by the previous one.`,
	Version:       version.Get().String(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the selected scenarios once",
	Long: `Run executes the selected scenarios in registration order and prints the
suite report. The exit status is 0 only when every selected scenario passed.`,
	RunE: runSuite,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered scenarios",
	RunE:  runList,
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Re-run the selected scenarios on a cron schedule",
	Long: `Schedule runs the selected scenarios whenever the cron expression fires,
one run at a time, until interrupted. The expression takes a leading seconds
field, e.g. "0 */30 * * * *". With --config the file is watched and changes
apply from the next run on.`,
	RunE: runSchedule,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("shotbuzz-e2e %s\n", rootCmd.Version)
	},
}

var (
	configFlag      string
	envFileFlag     string
	tagsFlag        []string
	scenariosFlag   []string
	reportFlag      string
	formatFlag      string
	metricsFileFlag string
	headedFlag      bool
	verboseFlag     bool
	dryRunFlag      bool
	parallelFlag    int
	cronFlag        string
	nowFlag         bool
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFlag, "config", "", "Config file (default: shotbuzz.yaml in . or ./config)")
	pf.StringVar(&envFileFlag, "env-file", "", "Optional .env file with SHOTBUZZ_* overrides")
	pf.StringSliceVar(&tagsFlag, "tag", nil, "Run scenarios carrying any of these tags")
	pf.StringSliceVar(&scenariosFlag, "scenario", nil, "Run only the named scenarios")
	pf.BoolVar(&verboseFlag, "verbose", false, "Log driver and HTTP traffic")

	for _, cmd := range []*cobra.Command{runCmd, scheduleCmd} {
		f := cmd.Flags()
		f.StringVar(&reportFlag, "report", "", "Write the report to this file")
		f.StringVar(&formatFlag, "format", "", "Report file format: json or yaml")
		f.StringVar(&metricsFileFlag, "metrics-file", "", "Write prometheus metrics in textfile format")
		f.BoolVar(&headedFlag, "headed", false, "Show the browser window")
		f.BoolVar(&dryRunFlag, "dry-run", false, "Run against the built-in sandbox portal instead of a browser")
		f.IntVar(&parallelFlag, "parallel", 0, "Independent scenario chains to run at once (default from config)")
	}
	scheduleCmd.Flags().StringVar(&cronFlag, "cron", "0 */30 * * * *", "Cron expression with seconds")
	scheduleCmd.Flags().BoolVar(&nowFlag, "now", false, "Run once immediately before the first tick")

	rootCmd.AddCommand(runCmd, listCmd, scheduleCmd, versionCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	suite, err := shotbuzz.NewSuite(shotbuzz.DefaultSettings())
	if err != nil {
		return err
	}
	selected, err := suite.Select(filter())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCENARIO\tROLE\tTAGS\tREQUIRES\tPUBLISHES")
	for _, sc := range selected {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", sc.Name, sc.Role,
			strings.Join(sc.Tags, ","), dash(sc.Requires), dash(sc.Publishes))
	}
	return w.Flush()
}

func dash(v []string) string {
	if len(v) == 0 {
		return "-"
	}
	return strings.Join(v, ",")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errSuiteFailed) {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		}
		os.Exit(1)
	}
}

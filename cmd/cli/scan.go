package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/pulsenet/pulsescan/internal/api"
	"github.com/pulsenet/pulsescan/internal/config"
	"github.com/pulsenet/pulsescan/internal/logging"
	"github.com/pulsenet/pulsescan/internal/output"
	"github.com/pulsenet/pulsescan/internal/scan"
	"github.com/pulsenet/pulsescan/internal/target"
)

var (
	scanCount    int
	scanWorkers  int
	scanRate     int
	scanTimeout  int
	scanPorts    string
	scanCIDRs    []string
	scanFile     string
	scanSimulate bool
	scanOutput   string
	scanMode     string
	scanFormat   string
	scanErrorLog string
)

const (
	progressWidth    = 30
	progressBuffer   = 1024
	progressThrottle = 65 * time.Millisecond
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Probe addresses for answering TCP ports",
	Long: `Scan draws addresses from the configured source, probes each
(address, port) pair once with a TCP connect attempt, and appends
answering pairs to the result sink.

By default addresses are drawn uniformly at random from routable IPv4
space. Use --cidr to enumerate ranges instead, or --file to probe a
fixed address list. Reserved space (private, loopback, multicast, and
the like) is filtered out before probing regardless of source.`,
	Example: `  pulsescan scan
  pulsescan scan --count 50000 --rate 2000 --workers 256
  pulsescan scan --cidr 198.51.100.0/24 --cidr 203.0.113.0/24 --ports 80,443
  pulsescan scan --file targets.txt --ports 22,2222 --output ssh_hits.log
  pulsescan scan --simulate --count 1000
  pulsescan scan --output-mode simple --output found_ips.txt`,
	Run: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	// Define flags
	scanCmd.Flags().IntVar(&scanCount, "count", config.DefaultCount, "Number of random addresses to draw")
	scanCmd.Flags().IntVar(&scanWorkers, "workers", config.DefaultWorkers, "Concurrent probe workers")
	scanCmd.Flags().IntVar(&scanRate, "rate", config.DefaultRate, "Probe admissions per second")
	scanCmd.Flags().IntVar(&scanTimeout, "timeout", config.DefaultTimeoutMS, "Per-probe connect timeout in milliseconds")
	scanCmd.Flags().StringVar(&scanPorts, "ports", config.DefaultPorts, "Ports to probe on every address")
	scanCmd.Flags().StringSliceVar(&scanCIDRs, "cidr", nil, "CIDR range to enumerate (repeatable)")
	scanCmd.Flags().StringVar(&scanFile, "file", "", "File of addresses to probe, one per line")
	scanCmd.Flags().BoolVar(&scanSimulate, "simulate", false, "Generate synthetic outcomes instead of dialing")
	scanCmd.Flags().StringVar(&scanOutput, "output", config.DefaultOutputPath, "Result sink path (append-only)")
	scanCmd.Flags().StringVar(&scanMode, "output-mode", config.DefaultOutputMode, "Output mode: simple or detailed")
	scanCmd.Flags().StringVar(&scanFormat, "format", config.DefaultFormat, "Detailed record format: csv or json")
	scanCmd.Flags().StringVar(&scanErrorLog, "error-log", "", "Append non-success outcomes to this file")

	// Random draw, CIDR enumeration, and file input are distinct sources
	scanCmd.MarkFlagsMutuallyExclusive("cidr", "file")

	bindScanFlags(scanCmd.Flags())

	// Add detailed flag descriptions
	scanCmd.Flags().Lookup("ports").Usage = "Port specification: '80,443' or '8000-8010' or a mix of both"
	scanCmd.Flags().Lookup("cidr").Usage = "CIDR range to enumerate, e.g. '198.51.100.0/24' (repeatable)"
	scanCmd.Flags().Lookup("output-mode").Usage = "simple writes bare addresses; detailed writes timestamped records"
}

// bindScanFlags binds every scan flag to its config key so the merged
// view keeps the file < environment < flag priority.
func bindScanFlags(flags *pflag.FlagSet) {
	bindings := map[string]string{
		"scan.count":        "count",
		"scan.workers":      "workers",
		"scan.rate":         "rate",
		"scan.timeout_ms":   "timeout",
		"scan.ports":        "ports",
		"scan.cidrs":        "cidr",
		"scan.address_file": "file",
		"scan.simulate":     "simulate",
		"output.path":       "output",
		"output.mode":       "output-mode",
		"output.format":     "format",
		"output.error_log":  "error-log",
	}
	for key, name := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind %s flag: %v\n", name, err)
		}
	}
}

func runScan(_ *cobra.Command, _ []string) {
	cfg := effectiveConfig()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	runCfg, err := buildRunConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	controller, err := scan.NewController(runCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	expected := expectedTargets(cfg)
	if !quiet {
		printBanner()
		printRunConfig(cfg, expected)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ctrl-C winds the run down as a cancellation, not an error.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupt received, winding down...")
		controller.Cancel()
	}()

	if cfg.IsAPIEnabled() {
		srv := api.New(cfg.GetAPIAddress(), getVersion(), controller)
		go func() {
			if serr := srv.Start(ctx); serr != nil {
				logging.Error("Ops endpoint failed", "error", serr)
			}
		}()
	}

	var progressDone chan struct{}
	if showProgress() {
		events, unsubscribe := controller.Events().Subscribe(progressBuffer)
		defer unsubscribe()
		progressDone = make(chan struct{})
		go trackProgress(events, expected, progressDone)
	}

	summary, runErr := controller.Run(ctx)
	if progressDone != nil {
		<-progressDone
	}

	if summary != nil && !quiet {
		printSummary(summary)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		os.Exit(1)
	}
}

// effectiveConfig materializes the merged file, environment, and flag
// view into a typed config.
func effectiveConfig() *config.Config {
	cfg := config.Default()

	cfg.Scan.Count = viper.GetInt("scan.count")
	cfg.Scan.Workers = viper.GetInt("scan.workers")
	cfg.Scan.Rate = viper.GetInt("scan.rate")
	cfg.Scan.Burst = viper.GetInt("scan.burst")
	cfg.Scan.TimeoutMS = viper.GetInt("scan.timeout_ms")
	cfg.Scan.Ports = viper.GetString("scan.ports")
	cfg.Scan.CIDRs = viper.GetStringSlice("scan.cidrs")
	cfg.Scan.AddressFile = viper.GetString("scan.address_file")
	cfg.Scan.Simulate = viper.GetBool("scan.simulate")

	cfg.Output.Mode = viper.GetString("output.mode")
	cfg.Output.Format = viper.GetString("output.format")
	cfg.Output.Path = viper.GetString("output.path")
	cfg.Output.ErrorLog = viper.GetString("output.error_log")

	cfg.Logging.Level = viper.GetString("logging.level")
	cfg.Logging.Format = viper.GetString("logging.format")
	cfg.Logging.Output = viper.GetString("logging.output")

	cfg.API.Enabled = viper.GetBool("api.enabled")
	cfg.API.Host = viper.GetString("api.host")
	cfg.API.Port = viper.GetInt("api.port")

	return cfg
}

// buildRunConfig freezes the validated configuration into the engine's
// run parameters.
func buildRunConfig(cfg *config.Config) (scan.RunConfig, error) {
	ports, err := target.ParsePorts(cfg.Scan.Ports)
	if err != nil {
		return scan.RunConfig{}, err
	}

	source := scan.SourceSpec{Kind: cfg.Scan.SourceKind()}
	switch source.Kind {
	case target.SourceRandom:
		source.Count = cfg.Scan.Count
	case target.SourceCIDR:
		source.CIDRs = cfg.Scan.CIDRs
	case target.SourceFile:
		source.Path = cfg.Scan.AddressFile
	}

	return scan.RunConfig{
		Workers: cfg.Scan.Workers,
		Rate:    cfg.Scan.Rate,
		Burst:   cfg.Scan.EffectiveBurst(),
		Timeout: cfg.Scan.Timeout(),
		Ports:   ports,
		Source:  source,
		Output: output.Config{
			Mode:     cfg.Output.Mode,
			Format:   cfg.Output.Format,
			Path:     cfg.Output.Path,
			ErrorLog: cfg.Output.ErrorLog,
		},
		Simulate: cfg.Scan.Simulate,
	}, nil
}

// expectedTargets estimates how many targets the run will admit, for
// the progress display. File sources are unknown ahead of time.
func expectedTargets(cfg *config.Config) int64 {
	ports, err := target.ParsePorts(cfg.Scan.Ports)
	if err != nil {
		return -1
	}
	perAddr := int64(len(ports))

	switch cfg.Scan.SourceKind() {
	case target.SourceRandom:
		return int64(cfg.Scan.Count) * perAddr
	case target.SourceCIDR:
		var addrs uint64
		for _, spec := range cfg.Scan.CIDRs {
			r, perr := target.ParseCIDR(spec)
			if perr != nil {
				return -1
			}
			addrs += r.Size()
		}
		return int64(addrs) * perAddr
	default:
		return -1
	}
}

// showProgress reports whether the live bar should render. Piped
// output gets logs only.
func showProgress() bool {
	return !quiet && term.IsTerminal(int(os.Stdout.Fd()))
}

// trackProgress renders the live bar from the event feed until the
// terminal state event arrives or the feed closes.
func trackProgress(events <-chan scan.Event, total int64, done chan<- struct{}) {
	defer close(done)

	bar := progressbar.NewOptions64(total,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(progressWidth),
		progressbar.OptionThrottle(progressThrottle),
		progressbar.OptionSetDescription("[cyan]probing[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[magenta]━[reset]",
			SaucerHead:    "[magenta]╾[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	var hits uint64
	for ev := range events {
		switch ev.Type {
		case scan.EventProbe:
			_ = bar.Add(1)
			if ev.Outcome == "success" {
				hits++
				_ = bar.Clear()
				color.Green("  ✔ [%s] ACTIVE %s  %dms\n",
					ev.Timestamp.Format("15:04:05"), ev.Target, ev.LatencyMS)
				bar.Describe(fmt.Sprintf("[cyan]probing[reset] ([green]%d up[reset])", hits))
			}
		case scan.EventState:
			switch ev.State {
			case scan.StateCompleted.String():
				_ = bar.Finish()
				fmt.Println()
				return
			case scan.StateCancelled.String():
				_ = bar.Exit()
				fmt.Println()
				return
			}
		}
	}

	_ = bar.Exit()
	fmt.Println()
}

const bannerArt = `
    ____        __           _____
   / __ \__  __/ /____ ___  / ___/_________ _____
  / /_/ / / / / / ___/ _ \  \__ \/ ___/ __ '/ __ \
 / ____/ /_/ / (__  )  __/ ___/ / /__/ /_/ / / / /
/_/    \__,_/_/____/\___/ /____/\___/\__,_/_/ /_/`

func printBanner() {
	color.Cyan("%s  v%s\n\n", bannerArt, version)
}

// printRunConfig shows the effective parameters before probing starts.
func printRunConfig(cfg *config.Config, expected int64) {
	targets := "unknown"
	if expected > 0 {
		targets = strconv.FormatInt(expected, 10)
	}

	sink := cfg.Output.Path
	if cfg.Output.Mode == output.ModeDetailed {
		sink = fmt.Sprintf("%s (%s)", cfg.Output.Path, cfg.Output.Format)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Parameter", "Value")
	rows := [][]string{
		{"Source", cfg.Scan.SourceKind()},
		{"Targets", targets},
		{"Ports", cfg.Scan.Ports},
		{"Workers", strconv.Itoa(cfg.Scan.Workers)},
		{"Rate", fmt.Sprintf("%d/s", cfg.Scan.Rate)},
		{"Timeout", fmt.Sprintf("%dms", cfg.Scan.TimeoutMS)},
		{"Output", sink},
	}
	if cfg.Scan.Simulate {
		rows = append(rows, []string{"Simulate", "on"})
	}
	for _, row := range rows {
		_ = table.Append(row)
	}
	_ = table.Render()
	fmt.Println()
}

// printSummary renders the end-of-run box.
func printSummary(s *scan.Summary) {
	state := color.GreenString(strings.ToUpper(s.State))
	if s.State != scan.StateCompleted.String() {
		state = color.YellowString(strings.ToUpper(s.State))
	}
	fmt.Printf("\n  Scan %s\n\n", state)

	mean := "-"
	if s.Stats.MeanLatencyMS != nil {
		mean = fmt.Sprintf("%.1fms", *s.Stats.MeanLatencyMS)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Metric", "Value")
	rows := [][]string{
		{"Elapsed", s.Elapsed.Round(time.Millisecond).String()},
		{"Probed", strconv.FormatUint(s.Stats.TotalProbed, 10)},
		{"Active", strconv.FormatUint(s.Stats.Success, 10)},
		{"Mean latency", mean},
		{"Timeouts", strconv.FormatUint(s.Stats.Timeout, 10)},
		{"Refused", strconv.FormatUint(s.Stats.Refused, 10)},
		{"Reset", strconv.FormatUint(s.Stats.Reset, 10)},
		{"Unreachable", strconv.FormatUint(s.Stats.Unreachable, 10)},
		{"Other", strconv.FormatUint(s.Stats.Other, 10)},
	}
	if s.ParseErrors > 0 {
		rows = append(rows, []string{"Parse errors", strconv.Itoa(s.ParseErrors)})
	}
	if s.Filtered > 0 {
		rows = append(rows, []string{"Filtered", strconv.Itoa(s.Filtered)})
	}
	rows = append(rows, []string{"Results", s.SinkPath})
	for _, row := range rows {
		_ = table.Append(row)
	}
	_ = table.Render()
}

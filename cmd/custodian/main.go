package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodian-dev/custodian/internal/config"
	"github.com/custodian-dev/custodian/internal/device"
	"github.com/custodian-dev/custodian/internal/domain"
	"github.com/custodian-dev/custodian/internal/lock"
	"github.com/custodian-dev/custodian/internal/logger"
	"github.com/custodian-dev/custodian/internal/progress"
	"github.com/custodian-dev/custodian/internal/state"
	"github.com/custodian-dev/custodian/internal/verify"
	"github.com/custodian-dev/custodian/internal/walker"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath  string
	logLevel    string
	logFormat   string
	algorithm   string
	workers     int
	chunkSizeKB int
	includes    []string
	excludes    []string
	quiet       bool

	fastMode   bool
	reportJSON string

	historyLimit int
	historyKind  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "custodian",
		Short: "Storage-aware file copy, hash and verification tool",
		Long: `custodian copies, hashes and verifies file trees with worker counts
and chunk sizes derived from the storage devices involved. Every copy
is provable: destination integrity comes from an independent re-read,
never from the bytes that were written.`,
		Version:       fmt.Sprintf("%s (commit: %s, built at: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (default: search custodian.yaml)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "", "Log format: text, json")
	pf.StringVar(&algorithm, "algorithm", "", "Hash algorithm: sha256, sha1, md5")
	pf.IntVar(&workers, "workers", 0, "Override profiled worker count")
	pf.IntVar(&chunkSizeKB, "chunk-size-kb", 0, "Override profiled chunk size in KB")
	pf.StringSliceVar(&includes, "include", nil, "Include patterns (multiple allowed)")
	pf.StringSliceVar(&excludes, "exclude", nil, "Exclude patterns (multiple allowed)")
	pf.BoolVar(&quiet, "quiet", false, "Suppress progress output")

	copyCmd := &cobra.Command{
		Use:   "copy <source> <target>",
		Short: "Copy a tree and verify the destination by re-reading it",
		Args:  cobra.ExactArgs(2),
		RunE:  runCopy,
	}
	copyCmd.Flags().BoolVar(&fastMode, "fast", false, "Reuse in-copy source digests instead of re-reading the source")
	copyCmd.Flags().StringVar(&reportJSON, "report-json", "", "Write the verification report to a JSON file")

	verifyCmd := &cobra.Command{
		Use:   "verify <source> <target>",
		Short: "Hash both trees concurrently and compare them",
		Args:  cobra.ExactArgs(2),
		RunE:  runVerify,
	}
	verifyCmd.Flags().StringVar(&reportJSON, "report-json", "", "Write the verification report to a JSON file")

	hashCmd := &cobra.Command{
		Use:   "hash <root>",
		Short: "Hash every file under a root",
		Args:  cobra.ExactArgs(1),
		RunE:  runHash,
	}
	hashCmd.Flags().StringVar(&reportJSON, "report-json", "", "Write the digests to a JSON file")

	devicesCmd := &cobra.Command{
		Use:   "devices <path>...",
		Short: "Show the detected device profile for each path",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDevices,
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs from the history database",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum runs to show")
	historyCmd.Flags().StringVar(&historyKind, "kind", "", "Filter by run kind: copy, verify, hash")

	rootCmd.AddCommand(copyCmd, verifyCmd, hashCmd, devicesCmd, historyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads config, applies flag overrides and initializes logging
func setup() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if algorithm != "" {
		cfg.Algorithm = algorithm
	}
	if workers > 0 {
		cfg.Workers = workers
	}
	if chunkSizeKB > 0 {
		cfg.ChunkSizeKB = chunkSizeKB
	}
	if fastMode {
		cfg.FastMode = true
	}
	if len(includes) > 0 {
		cfg.Include = includes
	}
	if len(excludes) > 0 {
		cfg.Exclude = excludes
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logCfg := logger.Config{
		Level:   logger.ParseLevel(cfg.Log.Level),
		Format:  logger.ParseFormat(cfg.Log.Format),
		Outputs: []logger.OutputConfig{{Type: logger.OutputStderr}},
	}
	if cfg.Log.File != "" {
		logCfg.Outputs = append(logCfg.Outputs, logger.OutputConfig{Type: logger.OutputFile})
		logCfg.File = logger.FileConfig{
			Enabled:    true,
			Path:       config.ExpandPath(cfg.Log.File),
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			MaxBackups: cfg.Log.MaxBackups,
			Compress:   cfg.Log.Compress,
		}
	}
	if err := logger.Init(logCfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// signalContext cancels on SIGINT/SIGTERM so workers stop at their next
// chunk boundary
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func operationOptions(cfg *config.Config) verify.Options {
	return verify.Options{
		Algorithm: cfg.HashAlgorithm(),
		Walk: walker.Options{
			Include: cfg.Include,
			// The run lock lives inside the target root and must never
			// count as payload
			Exclude:        append([]string{lock.LockFileName}, cfg.Exclude...),
			FollowSymlinks: cfg.FollowSymlinks,
		},
		Workers:    cfg.Workers,
		ChunkSize:  cfg.ChunkSize(),
		FastMode:   cfg.FastMode,
		OnProgress: progressPrinter(),
	}
}

func progressPrinter() progress.Callback {
	if quiet {
		return nil
	}
	return func(s progress.Snapshot) {
		fmt.Fprintf(os.Stderr, "\r[%s] %5.1f%% %d/%d files %s %s   ",
			s.Stream, s.Percent, s.FilesDone, s.FilesTotal,
			progress.FormatBytes(s.BytesDone), progress.FormatSpeed(s.BytesPerSecond))
		if s.Final {
			fmt.Fprintln(os.Stderr)
		}
	}
}

func runCopy(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer logger.Shutdown()

	ctx, cancel := signalContext()
	defer cancel()

	targetLock, err := lock.NewTargetLock(args[1])
	if err != nil {
		return err
	}
	if err := targetLock.Acquire("copy"); err != nil {
		return err
	}
	defer targetLock.Release()

	o := verify.NewOrchestrator(device.NewProfiler(logger.Get()), logger.Get())

	started := time.Now()
	report, copyMetrics, runErr := o.CopyAndVerify(ctx, args[0], args[1], operationOptions(cfg))
	recordRun(cfg, "copy", args[0], args[1], started, report, runErr)

	if report != nil {
		printSummary(report)
		fmt.Printf("copied:     %d files, %s (%.1f MB/s)\n",
			copyMetrics.FilesSucceeded,
			progress.FormatBytes(copyMetrics.BytesProcessed),
			copyMetrics.ThroughputMBps())
		if err := maybeWriteReport(report); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	if report.Mismatches > 0 {
		return fmt.Errorf("%d of %d files failed verification", report.Mismatches, len(report.Results))
	}
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer logger.Shutdown()

	ctx, cancel := signalContext()
	defer cancel()

	o := verify.NewOrchestrator(device.NewProfiler(logger.Get()), logger.Get())

	started := time.Now()
	report, runErr := o.Verify(ctx, args[0], args[1], operationOptions(cfg))
	recordRun(cfg, "verify", args[0], args[1], started, report, runErr)

	if report != nil {
		printSummary(report)
		if err := maybeWriteReport(report); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	if report.Mismatches > 0 {
		return fmt.Errorf("%d of %d files failed verification", report.Mismatches, len(report.Results))
	}
	return nil
}

func runHash(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer logger.Shutdown()

	ctx, cancel := signalContext()
	defer cancel()

	o := verify.NewOrchestrator(device.NewProfiler(logger.Get()), logger.Get())

	started := time.Now()
	outcomes, metrics, runErr := o.HashTree(ctx, args[0], operationOptions(cfg))

	var failed int
	paths := make([]string, 0, len(outcomes))
	for rel := range outcomes {
		paths = append(paths, rel)
	}
	sort.Strings(paths)
	for _, rel := range paths {
		out := outcomes[rel]
		if out.Succeeded {
			fmt.Printf("%s  %s\n", out.Digest, rel)
		} else {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %s\n", rel, out.ErrorKind)
		}
	}

	recordHashRun(cfg, args[0], started, metrics, runErr)

	if reportJSON != "" {
		doc := make(map[string]string, len(outcomes))
		for rel, out := range outcomes {
			if out.Succeeded {
				doc[rel] = out.Digest
			}
		}
		if err := writeJSON(reportJSON, map[string]any{
			"algorithm": string(cfg.HashAlgorithm()),
			"digests":   doc,
		}); err != nil {
			return err
		}
	}

	if runErr != nil {
		return runErr
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files could not be hashed", failed, metrics.FilesTotal)
	}
	return nil
}

func runDevices(cmd *cobra.Command, args []string) error {
	if _, err := setup(); err != nil {
		return err
	}
	defer logger.Shutdown()

	profiler := device.NewProfiler(logger.Get())
	for _, path := range args {
		p := profiler.Profile(path)
		fmt.Printf("%s\n  device: %s\n  kind: %s\n  workers: %d\n  chunk: %s\n  method: %s\n",
			path, p.DeviceID, p.Kind, p.Workers, progress.FormatBytes(int64(p.ChunkSize)), p.Method)
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer logger.Shutdown()

	manager, err := state.NewManager(cfg.HistoryPath())
	if err != nil {
		return err
	}
	defer manager.Close()

	var records []state.RunRecord
	if historyKind != "" {
		records, err = manager.GetHistory(historyKind, historyLimit)
	} else {
		records, err = manager.GetAllHistory(historyLimit)
	}
	if err != nil {
		return err
	}

	for _, r := range records {
		target := r.TargetRoot
		if target == "" {
			target = "-"
		}
		fmt.Printf("%s  %-6s  %-9s  %6d files  %10s  %d mismatches  %s -> %s\n",
			r.StartTime.Format(time.RFC3339), r.Kind, r.Status,
			r.Files, progress.FormatBytes(r.Bytes), r.Mismatches,
			r.SourceRoot, target)
	}
	return nil
}

// recordRun persists a finished copy or verify run; history failures
// are logged, never fatal
func recordRun(cfg *config.Config, kind, source, target string, started time.Time, report *domain.AggregateReport, runErr error) {
	if !cfg.History.Enabled {
		return
	}

	record := state.RunRecord{
		Kind:       kind,
		SourceRoot: source,
		TargetRoot: target,
		Algorithm:  string(cfg.HashAlgorithm()),
		StartTime:  started,
		EndTime:    time.Now(),
		Status:     state.StatusForReport(report, runErr),
	}
	if report != nil {
		record.Files = len(report.Results)
		record.Bytes = report.SourceMetrics.BytesProcessed
		record.Mismatches = report.Mismatches
		record.FastMode = report.FastMode
	}
	if runErr != nil {
		record.Error = runErr.Error()
	}

	saveRun(cfg, record)
}

func recordHashRun(cfg *config.Config, root string, started time.Time, metrics domain.OperationMetrics, runErr error) {
	if !cfg.History.Enabled {
		return
	}

	status := state.StatusSuccess
	switch {
	case runErr != nil && domain.IsFatal(runErr):
		status = state.StatusFailed
	case runErr != nil:
		status = state.StatusCancelled
	case metrics.FilesFailed > 0:
		status = state.StatusPartial
	}

	record := state.RunRecord{
		Kind:       "hash",
		SourceRoot: root,
		Algorithm:  string(cfg.HashAlgorithm()),
		StartTime:  started,
		EndTime:    time.Now(),
		Status:     status,
		Files:      metrics.FilesTotal,
		Bytes:      metrics.BytesProcessed,
	}
	if runErr != nil {
		record.Error = runErr.Error()
	}

	saveRun(cfg, record)
}

func saveRun(cfg *config.Config, record state.RunRecord) {
	manager, err := state.NewManager(cfg.HistoryPath())
	if err != nil {
		logger.Get().Warn("history database unavailable", "error", err)
		return
	}
	defer manager.Close()

	if err := manager.SaveRun(record); err != nil {
		logger.Get().Warn("failed to record run", "error", err)
	}
}

func printSummary(report *domain.AggregateReport) {
	counts := make(map[domain.VerificationCategory]int)
	for _, res := range report.Results {
		counts[res.Category]++
	}

	fmt.Printf("verified:   %d files in %s\n", len(report.Results), report.TotalDuration.Round(time.Millisecond))
	fmt.Printf("matched:    %d\n", counts[domain.CategoryExactMatch])
	for _, c := range []domain.VerificationCategory{
		domain.CategoryHashMismatch,
		domain.CategoryMissingTarget,
		domain.CategoryMissingSource,
		domain.CategoryReadError,
		domain.CategoryCancelled,
	} {
		if counts[c] > 0 {
			fmt.Printf("%-12s%d\n", c.String()+":", counts[c])
		}
	}
	if report.FastMode {
		fmt.Println("note:       fast mode, source digests were not independently re-read")
	}
}

func maybeWriteReport(report *domain.AggregateReport) error {
	if reportJSON == "" {
		return nil
	}

	rows := report.Rows()
	sort.Slice(rows, func(i, j int) bool { return rows[i].RelativePath < rows[j].RelativePath })

	doc := map[string]any{
		"total_duration_ms": report.TotalDuration.Milliseconds(),
		"mismatches":        report.Mismatches,
		"fast_mode":         report.FastMode,
		"files":             rows,
	}
	return writeJSON(reportJSON, doc)
}

func writeJSON(path string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

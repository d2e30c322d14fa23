// Package main provides the CLI entrypoint for typedrill.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/verte-zerg/typedrill/internal/analytics"
	"github.com/verte-zerg/typedrill/internal/config"
	"github.com/verte-zerg/typedrill/internal/ingest"
	"github.com/verte-zerg/typedrill/internal/model"
	"github.com/verte-zerg/typedrill/internal/ngram"
	"github.com/verte-zerg/typedrill/internal/refresh"
	"github.com/verte-zerg/typedrill/internal/stats"
	"github.com/verte-zerg/typedrill/internal/store"
	"github.com/verte-zerg/typedrill/internal/summarize"
)

const (
	defaultSlowestN = 10
	defaultErrorsN  = 10
	defaultLookback = 30
)

var defaultSizes = []int{2, 3}

var (
	ingestSizes       []int
	ingestFastBelowMs int64
	ingestSlowAboveMs int64

	refreshSessionID int64
	refreshDecay     float64
	refreshSamples   int
	refreshSuppress  bool

	queryUserID     int64
	queryKeyboardID int64
	querySize       int
	queryChars      string
	queryMinSamples int
	queryMissedOnly bool
	queryN          int
	queryLookback   int
	queryNgram      string

	keyboardUserID   int64
	keyboardName     string
	keyboardTargetMs int64
	keyboardID       int64
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "typedrill",
		Short:         "Keystroke timing and n-gram analytics",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newSummarizeCmd())
	rootCmd.AddCommand(newRefreshCmd())
	rootCmd.AddCommand(newHeatmapCmd())
	rootCmd.AddCommand(newSlowestCmd())
	rootCmd.AddCommand(newErrorsCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newCompareCmd())
	rootCmd.AddCommand(newKeyboardCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

func newIngestCmd() *cobra.Command {
	th := ngram.DefaultThresholds()
	cmd := &cobra.Command{
		Use:   "ingest <session.json>...",
		Short: "Load recorded session logs into the database",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runIngestCmd,
	}
	cmd.Flags().IntSliceVar(&ingestSizes, "sizes", defaultSizes, "n-gram sizes to derive")
	cmd.Flags().Int64Var(&ingestFastBelowMs, "fast-below-ms", th.FastBelowMs, "per-keystroke ms below which a window is fast")
	cmd.Flags().Int64Var(&ingestSlowAboveMs, "slow-above-ms", th.SlowAboveMs, "per-keystroke ms above which a window is slow")
	return cmd
}

func runIngestCmd(cmd *cobra.Command, args []string) error {
	fileCfg, st, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore(st)

	if !cmd.Flags().Changed("sizes") && len(fileCfg.Engine.NgramSizes) > 0 {
		ingestSizes = fileCfg.Engine.NgramSizes
	}
	applyInt64Config(cmd, "fast-below-ms", &ingestFastBelowMs, fileCfg.Engine.FastBelowMs)
	applyInt64Config(cmd, "slow-above-ms", &ingestSlowAboveMs, fileCfg.Engine.SlowAboveMs)

	opts := ingest.Options{
		Sizes:      ingestSizes,
		Thresholds: ngram.Thresholds{FastBelowMs: ingestFastBelowMs, SlowAboveMs: ingestSlowAboveMs},
	}
	ctx := context.Background()
	for _, path := range args {
		res, err := ingest.File(ctx, st, path, opts)
		if err != nil {
			return fmt.Errorf("failed to ingest %s: %w", path, err)
		}
		fmt.Printf("session %d: %d keystrokes (%d net), %d speed n-grams, %d error n-grams\n",
			res.SessionID, res.RawCount, res.NetCount, res.SpeedNgrams, res.ErrorNgrams)
	}
	return nil
}

func newSummarizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summarize",
		Short: "Aggregate per-session n-gram summaries",
		Args:  cobra.NoArgs,
		RunE:  runSummarizeCmd,
	}
}

func runSummarizeCmd(_ *cobra.Command, _ []string) error {
	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore(st)

	processed, err := summarize.New(st, newLogger()).Run(context.Background())
	if err != nil {
		return fmt.Errorf("failed to summarize: %w", err)
	}
	fmt.Printf("summarized %d session(s)\n", processed)
	return nil
}

func newRefreshCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Recompute decaying-average speed summaries",
		Args:  cobra.NoArgs,
		RunE:  runRefreshCmd,
	}
	cmd.Flags().Int64Var(&refreshSessionID, "session", 0, "refresh only the n-grams of one session")
	cmd.Flags().Float64Var(&refreshDecay, "decay-factor", stats.DefaultDecayFactor, "decay factor per elapsed day")
	cmd.Flags().IntVar(&refreshSamples, "max-samples", stats.DefaultMaxSamples, "most recent sessions considered per n-gram")
	cmd.Flags().BoolVar(&refreshSuppress, "suppress-duplicate-history", false, "skip history rows identical to the previous one")
	return cmd
}

func runRefreshCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, st, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore(st)

	applyFloatConfig(cmd, "decay-factor", &refreshDecay, fileCfg.Engine.DecayFactor)
	applyIntConfig(cmd, "max-samples", &refreshSamples, fileCfg.Engine.MaxSamples)
	applyBoolConfig(cmd, "suppress-duplicate-history", &refreshSuppress, fileCfg.Engine.SuppressDupes)

	r := refresh.New(st, newLogger(), refresh.Options{
		DecayFactor:              refreshDecay,
		MaxSamples:               refreshSamples,
		SuppressDuplicateHistory: refreshSuppress,
	})

	ctx := context.Background()
	if refreshSessionID > 0 {
		counts, err := r.RefreshSession(ctx, refreshSessionID)
		if err != nil {
			return fmt.Errorf("failed to refresh session %d: %w", refreshSessionID, err)
		}
		fmt.Printf("session %d: %d updated, %d inserted\n", refreshSessionID, counts.Updated, counts.Inserted)
		return nil
	}

	res, err := r.CatchUp(ctx)
	if err != nil {
		return fmt.Errorf("failed to catch up: %w", err)
	}
	fmt.Printf("replayed %d session(s) (%d failed): %d updated, %d inserted\n",
		res.Sessions, res.Failed, res.Updated, res.Inserted)
	return nil
}

func addScopeFlags(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&queryUserID, "user", 1, "user id")
	cmd.Flags().Int64Var(&queryKeyboardID, "keyboard", 0, "keyboard id")
	if err := cmd.MarkFlagRequired("keyboard"); err != nil {
		logErrf("failed to mark flag required: %v\n", err)
	}
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&querySize, "size", 0, "exact n-gram size (0 = all)")
	cmd.Flags().StringVar(&queryChars, "chars", "", "only n-grams built from these characters")
	cmd.Flags().IntVar(&queryMinSamples, "min-samples", 0, "minimum sample count")
	cmd.Flags().BoolVar(&queryMissedOnly, "missed-only", false, "only n-grams missing their target")
}

func queryFilter() model.SummaryFilter {
	return model.SummaryFilter{
		Size:             querySize,
		IncludedChars:    queryChars,
		MinSampleCount:   queryMinSamples,
		MissedTargetOnly: queryMissedOnly,
	}
}

func newHeatmapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heatmap",
		Short: "Show per-n-gram speed vs target, worst first",
		Args:  cobra.NoArgs,
		RunE:  runHeatmapCmd,
	}
	addScopeFlags(cmd)
	addFilterFlags(cmd)
	return cmd
}

func runHeatmapCmd(cmd *cobra.Command, _ []string) error {
	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore(st)

	entries, err := analytics.New(st).Heatmap(context.Background(), queryUserID, queryKeyboardID, queryFilter())
	if err != nil {
		return fmt.Errorf("failed to load heatmap: %w", err)
	}
	return stats.RenderHeatmap(cmd.OutOrStdout(), entries)
}

func newSlowestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slowest",
		Short: "Show the slowest n-grams",
		Args:  cobra.NoArgs,
		RunE:  runSlowestCmd,
	}
	addScopeFlags(cmd)
	addFilterFlags(cmd)
	cmd.Flags().IntVar(&queryN, "n", defaultSlowestN, "number of n-grams")
	return cmd
}

func runSlowestCmd(cmd *cobra.Command, _ []string) error {
	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore(st)

	rows, err := analytics.New(st).SlowestN(context.Background(), queryUserID, queryKeyboardID, queryN, queryFilter())
	if err != nil {
		return fmt.Errorf("failed to load slowest n-grams: %w", err)
	}
	return stats.RenderSummaries(cmd.OutOrStdout(), rows)
}

func newErrorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Show the most error-prone n-grams",
		Args:  cobra.NoArgs,
		RunE:  runErrorsCmd,
	}
	addScopeFlags(cmd)
	cmd.Flags().IntVar(&queryN, "n", defaultErrorsN, "number of n-grams")
	cmd.Flags().IntVar(&queryLookback, "lookback-days", defaultLookback, "only sessions within this many days (0 = all)")
	cmd.Flags().IntVar(&querySize, "size", 0, "exact n-gram size (0 = all)")
	return cmd
}

func runErrorsCmd(cmd *cobra.Command, _ []string) error {
	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore(st)

	rows, err := analytics.New(st).ErrorN(context.Background(), queryUserID, queryKeyboardID, queryN, queryLookback, querySize)
	if err != nil {
		return fmt.Errorf("failed to load error counts: %w", err)
	}
	return stats.RenderErrorCounts(cmd.OutOrStdout(), rows)
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show summary history over time",
		Args:  cobra.NoArgs,
		RunE:  runHistoryCmd,
	}
	addScopeFlags(cmd)
	cmd.Flags().StringVar(&queryNgram, "ngram", "", "limit to one n-gram")
	return cmd
}

func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore(st)

	rows, err := analytics.New(st).History(context.Background(), queryUserID, queryKeyboardID, queryNgram)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	return stats.RenderHistory(cmd.OutOrStdout(), rows)
}

func newCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare the last two measurements per n-gram",
		Args:  cobra.NoArgs,
		RunE:  runCompareCmd,
	}
	addScopeFlags(cmd)
	return cmd
}

func runCompareCmd(cmd *cobra.Command, _ []string) error {
	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore(st)

	rows, err := analytics.New(st).CompareLastTwo(context.Background(), queryUserID, queryKeyboardID)
	if err != nil {
		return fmt.Errorf("failed to compare: %w", err)
	}
	return stats.RenderComparisons(cmd.OutOrStdout(), rows)
}

func newKeyboardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyboard",
		Short: "Manage keyboards",
	}
	cmd.AddCommand(newKeyboardAddCmd())
	cmd.AddCommand(newKeyboardSetTargetCmd())
	return cmd
}

func newKeyboardAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a keyboard",
		Args:  cobra.NoArgs,
		RunE:  runKeyboardAddCmd,
	}
	cmd.Flags().Int64Var(&keyboardUserID, "user", 1, "user id")
	cmd.Flags().StringVar(&keyboardName, "name", "", "keyboard name")
	cmd.Flags().Int64Var(&keyboardTargetMs, "target-ms", 0, "target ms per keystroke (0 = engine default)")
	if err := cmd.MarkFlagRequired("name"); err != nil {
		logErrf("failed to mark flag required: %v\n", err)
	}
	return cmd
}

func runKeyboardAddCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, st, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore(st)

	applyInt64Config(cmd, "target-ms", &keyboardTargetMs, fileCfg.Engine.TargetMs)
	var target *int64
	if keyboardTargetMs > 0 {
		target = &keyboardTargetMs
	}
	id, err := st.CreateKeyboard(context.Background(), keyboardUserID, keyboardName, target)
	if err != nil {
		return fmt.Errorf("failed to create keyboard: %w", err)
	}
	fmt.Printf("keyboard %d created\n", id)
	return nil
}

func newKeyboardSetTargetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-target",
		Short: "Set a keyboard's target speed",
		Args:  cobra.NoArgs,
		RunE:  runKeyboardSetTargetCmd,
	}
	cmd.Flags().Int64Var(&keyboardID, "id", 0, "keyboard id")
	cmd.Flags().Int64Var(&keyboardTargetMs, "target-ms", 0, "target ms per keystroke")
	for _, name := range []string{"id", "target-ms"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			logErrf("failed to mark flag required: %v\n", err)
		}
	}
	return cmd
}

func runKeyboardSetTargetCmd(_ *cobra.Command, _ []string) error {
	if keyboardTargetMs <= 0 {
		return fmt.Errorf("--target-ms must be > 0")
	}
	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore(st)

	if err := st.SetKeyboardTarget(context.Background(), keyboardID, keyboardTargetMs); err != nil {
		return fmt.Errorf("failed to set target: %w", err)
	}
	fmt.Printf("keyboard %d target set to %dms\n", keyboardID, keyboardTargetMs)
	return nil
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := config.DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

// openStore loads the config layers and opens the database they point
// at. The .env file, when present, may override the database path.
func openStore() (config.FileConfig, *store.Store, error) {
	config.LoadEnv()
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return config.FileConfig{}, nil, fmt.Errorf("failed to load config: %w", err)
	}
	st, err := store.Open(config.ResolveDBPath(fileCfg))
	if err != nil {
		return config.FileConfig{}, nil, fmt.Errorf("failed to open db: %w", err)
	}
	return fileCfg, st, nil
}

func closeStore(st *store.Store) {
	if cerr := st.Close(); cerr != nil {
		logErrf("failed to close db: %v\n", cerr)
	}
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func applyIntConfig(cmd *cobra.Command, name string, target, value *int) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyInt64Config(cmd *cobra.Command, name string, target, value *int64) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyFloatConfig(cmd *cobra.Command, name string, target, value *float64) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyBoolConfig(cmd *cobra.Command, name string, target, value *bool) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func defaultConfigTemplate() string {
	th := ngram.DefaultThresholds()
	return fmt.Sprintf(`# typedrill configuration
# Uncomment a value to enable it. CLI flags override config values.

[engine]
# ngram-sizes = [2, 3]             # N-gram sizes to derive on ingest
# fast-below-ms = %d              # Per-keystroke ms below which a window is fast
# slow-above-ms = %d              # Per-keystroke ms above which a window is slow
# decay-factor = %.1f               # Decay factor per elapsed day
# max-samples = %d                 # Most recent sessions considered per n-gram
# target-ms = %d                  # Default target ms per keystroke
# suppress-duplicate-history = false

[storage]
# db-path = ""                     # Overrides the default database location
`,
		th.FastBelowMs,
		th.SlowAboveMs,
		stats.DefaultDecayFactor,
		stats.DefaultMaxSamples,
		model.DefaultTargetMs,
	)
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}

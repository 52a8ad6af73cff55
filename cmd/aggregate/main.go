package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"study-aggregator/config"
	"study-aggregator/providers/staged"
	"study-aggregator/services"
	"study-aggregator/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	verbose   bool
	rulesFile string
	sourceID  int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Study aggregation one-shot commands",
		Long:  "Runs the linkage and identity assignment once, outside the HTTP service.",
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "development logging")
	rootCmd.PersistentFlags().StringVar(&rulesFile, "rules", "", "linkage rules YAML (default: embedded rules or RULES_FILE)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a complete aggregation",
		RunE:  runAggregation,
	}
	linksCmd := &cobra.Command{
		Use:   "links",
		Short: "Rebuild study_study_links and linked_study_groups only",
		RunE:  runLinks,
	}
	normalizeCmd := &cobra.Command{
		Use:   "normalize [values...]",
		Short: "Show how identifier values are cleaned for a target source",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runNormalize,
	}
	normalizeCmd.Flags().IntVar(&sourceID, "source", 0, "target source id")
	normalizeCmd.MarkFlagRequired("source")

	rootCmd.AddCommand(runCmd, linksCmd, normalizeCmd)
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func loadRules(cfg *config.Config) (*config.Rules, error) {
	path := rulesFile
	if path == "" && cfg != nil {
		path = cfg.RulesFile
	}
	return config.LoadRules(path)
}

func newAggregator(logging *zap.Logger) (*services.Aggregator, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	rules, err := loadRules(cfg)
	if err != nil {
		return nil, err
	}
	db, err := storage.OpenCore(cfg)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(db); err != nil {
		return nil, err
	}
	if err := storage.SeedSources(db, rules, logging); err != nil {
		return nil, err
	}
	var uploader storage.ObjectUploader
	if cfg.S3Enabled() {
		client, err := storage.NewS3Client(cfg)
		if err != nil {
			return nil, err
		}
		uploader = client
	}
	return services.NewAggregator(cfg, rules, db, staged.Opener(cfg), uploader,
		services.NewMetrics(prometheus.NewRegistry()), logging)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runAggregation(cmd *cobra.Command, args []string) error {
	logging, err := newLogger()
	if err != nil {
		return err
	}
	defer logging.Sync()

	agg, err := newAggregator(logging)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	run, err := agg.Run(ctx, "cli")
	if run != nil {
		if perr := printJSON(run); perr != nil {
			logging.Warn("Could not print run", zap.Error(perr))
		}
	}
	return err
}

func runLinks(cmd *cobra.Command, args []string) error {
	logging, err := newLogger()
	if err != nil {
		return err
	}
	defer logging.Sync()

	agg, err := newAggregator(logging)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	stats, err := agg.RunLinkage(ctx)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func runNormalize(cmd *cobra.Command, args []string) error {
	rules, err := loadRules(nil)
	if err != nil {
		return err
	}
	n, err := services.NewIdentifierNormalizer(rules.IdentifierRules)
	if err != nil {
		return err
	}
	if !n.HasRule(sourceID) {
		fmt.Fprintf(os.Stderr, "no identifier rule for source %d, only generic cleaning applies\n", sourceID)
	}
	for _, raw := range args {
		fmt.Printf("%q\t%s\n", raw, strings.Join(n.Normalize(sourceID, raw), ", "))
	}
	return nil
}

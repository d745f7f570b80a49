package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/safespeak/moderation-engine/backend/internal/audit"
	"github.com/safespeak/moderation-engine/backend/internal/config"
	"github.com/safespeak/moderation-engine/backend/internal/engine"
	"github.com/safespeak/moderation-engine/backend/internal/logging"
	"github.com/safespeak/moderation-engine/backend/internal/matchers"
	"github.com/safespeak/moderation-engine/backend/internal/metrics"
	"github.com/safespeak/moderation-engine/backend/internal/policy"
	"github.com/safespeak/moderation-engine/backend/internal/rules"
	"github.com/safespeak/moderation-engine/backend/internal/taxonomy"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func main() {
	configDir := flag.String("config", "", "directory containing config.yaml")
	configFile := flag.String("config-file", "", "explicit config file; overrides -config")
	inputPath := flag.String("input", "", "read requests from this file instead of stdin")
	asJSON := flag.Bool("json", false, "print decisions as JSON lines")
	org := flag.String("org", rules.DefaultOrganization, "organization for requests that do not name one")
	session := flag.String("session", "", "continuity key for requests that do not carry one")
	flag.Parse()

	// Load environment variables
	_ = godotenv.Load()

	cfg, err := loadConfig(*configDir, *configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%sError: %v%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	source, stopTaxonomy, err := openTaxonomy(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load taxonomy")
	}
	defer stopTaxonomy()

	matcherRegistry := rules.NewMatcherRegistry()
	if err := matchers.RegisterBuiltins(matcherRegistry); err != nil {
		logger.WithError(err).Fatal("Failed to register built-in matchers")
	}

	store := rules.NewStore()
	compileOpts := rules.CompileOptions{Taxonomy: source.Current(), Matchers: matcherRegistry}
	if err := rules.LoadDir(cfg.Rules.Directory, store, compileOpts, logger); err != nil {
		logger.WithError(err).Fatal("Failed to load organization rules")
	}

	fusionCfg, err := cfg.FusionSettings()
	if err != nil {
		logger.WithError(err).Fatal("Invalid fusion configuration")
	}
	policyCfg, err := cfg.PolicySettings()
	if err != nil {
		logger.WithError(err).Fatal("Invalid policy configuration")
	}

	states := policy.NewStateStore(cfg.Policy.Shards)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pruneStates(ctx, states, cfg.Policy.StateTTL, logger)

	eng, err := engine.New(engine.Options{
		Taxonomy: source,
		Rules:    store,
		Fusion:   fusionCfg,
		Policy:   policyCfg,
		States:   states,
		Logger:   logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize engine")
	}

	recorder, err := openAudit(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open audit sink")
	}
	if recorder != nil {
		defer recorder.Close()
	}

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr, source, logger)
	}

	var in io.Reader = os.Stdin
	interactive := *inputPath == "" && !*asJSON
	if *inputPath != "" {
		f, err := os.Open(*inputPath)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open input")
		}
		defer f.Close()
		in = f
	}

	if interactive {
		printBanner(source, store)
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		if interactive {
			fmt.Printf("%s%s> %s", colorBold, colorBlue, colorReset)
		}
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if interactive && (line == "exit" || line == "quit") {
			fmt.Println(colorCyan + "Goodbye!" + colorReset)
			break
		}

		req, err := parseLine(line, *org, *session)
		if err != nil {
			logger.WithError(err).Warn("Skipping unreadable request")
			continue
		}
		if req.RequestID == "" {
			req.RequestID = uuid.NewString()
		}

		start := time.Now()
		decision, evalErr := eng.Evaluate(req)
		latency := time.Since(start)

		if recorder != nil {
			// a lost audit record is logged by the recorder; keep moderating
			_, _ = recorder.Record(ctx, decision, latency)
		}

		if *asJSON {
			out, err := json.Marshal(decision)
			if err != nil {
				logger.WithError(err).Error("Failed to encode decision")
				continue
			}
			fmt.Println(string(out))
			continue
		}
		printDecision(decision, evalErr)
		fmt.Println()
	}
	if err := scanner.Err(); err != nil {
		logger.WithError(err).Error("Failed to read input")
	}
}

// loadConfig reads an explicit file when one is given, otherwise searches dir
// and the default locations for config.yaml
func loadConfig(dir, file string) (*config.Config, error) {
	if file != "" {
		return config.LoadFile(file)
	}
	return config.Load(dir)
}

// openTaxonomy returns the configured taxonomy source and a stop function
func openTaxonomy(cfg *config.Config, logger *logrus.Logger) (taxonomy.Source, func(), error) {
	if cfg.Taxonomy.Path == "" {
		return taxonomy.NewStaticSource(taxonomy.Default()), func() {}, nil
	}

	fs, err := taxonomy.NewFileSource(cfg.Taxonomy.Path, logger)
	if err != nil {
		return nil, nil, err
	}
	fs.OnReload(func(oldVersion, newVersion string, err error) {
		metrics.RecordTaxonomyReload(err)
	})
	if !cfg.Taxonomy.Watch {
		return fs, func() {}, nil
	}
	if err := fs.StartHotReload(); err != nil {
		return nil, nil, err
	}
	return fs, fs.StopHotReload, nil
}

// openAudit builds the recorder for the configured sinks, nil when none is set
func openAudit(cfg *config.Config, logger *logrus.Logger) (*audit.Recorder, error) {
	var sinks []audit.Sink

	if cfg.Audit.File != "" {
		fileSink, err := audit.NewFileSink(cfg.Audit.File)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fileSink)
	}

	if cfg.Audit.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Audit.Redis.Addr,
			Password: cfg.Audit.Redis.Password,
			DB:       cfg.Audit.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.Audit.Redis.Addr, err)
		}
		var redisSink audit.Sink = audit.NewRedisSink(client, cfg.Audit.Redis.Stream, cfg.Audit.Redis.MaxLen)
		if cfg.Audit.Redis.BreakerFailures > 0 {
			redisSink = audit.NewBreakerSink(redisSink, audit.BreakerConfig{
				FailureThreshold: cfg.Audit.Redis.BreakerFailures,
				Timeout:          cfg.Audit.Redis.BreakerTimeout,
			}, logger)
		}
		sinks = append(sinks, redisSink)
	}

	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return audit.NewRecorder(sinks[0], logger), nil
	default:
		return audit.NewRecorder(audit.NewMultiSink(sinks...), logger), nil
	}
}

func pruneStates(ctx context.Context, states *policy.StateStore, ttl time.Duration, logger *logrus.Logger) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := states.Prune(now.Add(-ttl)); n > 0 {
				logger.WithField("removed", n).Debug("Pruned idle continuity keys")
			}
		}
	}
}

func serveMetrics(addr string, source taxonomy.Source, logger *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":           "ok",
			"service":          "moderation-engine",
			"taxonomy_version": source.Current().Version(),
		})
	})

	logger.WithField("addr", addr).Info("Serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Error("Metrics server failed")
	}
}

func printBanner(source taxonomy.Source, store *rules.Store) {
	fmt.Println(colorCyan + colorBold + `
╔═══════════════════════════════════════════════════════════╗
║            SAFESPEAK MODERATION - Interactive CLI         ║
║   Enter scores as category=score [-- text] or JSON        ║
║   Type 'exit' or 'quit' to exit                           ║
╚═══════════════════════════════════════════════════════════╝` + colorReset)
	fmt.Println()

	reg := source.Current()
	fmt.Printf("%s[✓] Components initialized%s\n", colorGreen, colorReset)
	fmt.Printf("    Taxonomy:  %s (%d categories)\n", reg.Version(), reg.Len())
	fmt.Printf("    Categories: %s\n", strings.Join(reg.IDs(), ", "))
	orgs := store.Organizations()
	if len(orgs) == 0 {
		orgs = []string{"none"}
	}
	fmt.Printf("    Rule sets: %s\n", strings.Join(orgs, ", "))
	fmt.Println()
}

func printDecision(d *engine.Decision, evalErr error) {
	fmt.Println()

	switch d.Action {
	case policy.ActionSafe:
		fmt.Printf("%s%s  SAFE  %s\n", colorBold, colorGreen, colorReset)
	case policy.ActionWarning:
		fmt.Printf("%s%s  WARNING  %s\n", colorBold, colorYellow, colorReset)
	default:
		fmt.Printf("%s%s  BLOCKED  %s\n", colorBold, colorRed, colorReset)
	}

	fmt.Printf("%sLabel:%s %s (%.0f%% confidence)\n", colorBold, colorReset, d.Label, d.Confidence*100)
	fmt.Printf("%sReason:%s %s\n", colorBold, colorReset, d.Reason)
	if evalErr != nil {
		fmt.Printf("%sError:%s %v\n", colorBold, colorReset, evalErr)
	}
	fmt.Println()

	fmt.Printf("%s┌─ Assessment ───────────────────────────────────────%s\n", colorYellow, colorReset)
	fmt.Printf("│ Risk Score:  %d/100 (%s)\n", d.RiskScore, d.RiskLevel)
	fmt.Printf("│ Statistical: %s\n", d.StatisticalAction)
	if d.TriggeredRule != nil {
		fmt.Printf("│ Rule:        %s%s%s\n", colorRed, *d.TriggeredRule, colorReset)
	}
	fmt.Printf("│ Taxonomy:    %s  Rules: %s\n", d.TaxonomyVersion, d.RuleSetVersion)
	fmt.Printf("%s└────────────────────────────────────────────────────%s\n", colorYellow, colorReset)

	fmt.Printf("%s┌─ Why ──────────────────────────────────────────────%s\n", colorCyan, colorReset)
	for _, e := range d.Explanations {
		fmt.Printf("│ %s\n", e)
	}
	fmt.Printf("%s└────────────────────────────────────────────────────%s\n", colorCyan, colorReset)
}

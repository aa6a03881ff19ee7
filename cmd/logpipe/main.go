package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/coffersTech/logpipe/internal/adminapi"
	"github.com/coffersTech/logpipe/internal/assembler"
	"github.com/coffersTech/logpipe/internal/batcher"
	"github.com/coffersTech/logpipe/internal/controller"
	"github.com/coffersTech/logpipe/internal/deadletter"
	"github.com/coffersTech/logpipe/internal/diagnostics"
	"github.com/coffersTech/logpipe/internal/entrypoint"
	"github.com/coffersTech/logpipe/internal/metrics"
	"github.com/coffersTech/logpipe/internal/planner"
	"github.com/coffersTech/logpipe/internal/security"
	"github.com/coffersTech/logpipe/internal/shard"
	"github.com/coffersTech/logpipe/internal/state"
	"github.com/coffersTech/logpipe/internal/store"
)

func main() {
	dataDir := flag.String("data", "./data", "directory for sqlite databases and the master key")
	adminAddr := flag.String("admin-addr", ":9090", "listen address for the read-only admin API")
	routesPath := flag.String("routes", "", "path to a JSON file of LogRouteConfig entries (optional)")
	cronSpec := flag.String("prune-cron", "0 0 * * *", "cron schedule for retention pruning")
	flag.Parse()

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Fatalf("logpipe: create data dir: %v", err)
	}

	log.Println("logpipe starting...")

	if _, err := security.InitMasterKey(filepath.Join(*dataDir, "master.key")); err != nil {
		log.Fatalf("logpipe: init master key: %v", err)
	}

	st, err := store.OpenSQLiteStore(filepath.Join(*dataDir, "logs.db"))
	if err != nil {
		log.Fatalf("logpipe: open log store: %v", err)
	}
	defer st.Close()

	durableKV, err := state.OpenKV(filepath.Join(*dataDir, "durable.db"), "durable_kv")
	if err != nil {
		log.Fatalf("logpipe: open durable state: %v", err)
	}
	defer durableKV.Close()

	diagKV, err := state.OpenKV(filepath.Join(*dataDir, "diagnostics.db"), "diagnostics_kv")
	if err != nil {
		log.Fatalf("logpipe: open diagnostics state: %v", err)
	}
	defer diagKV.Close()
	diag := diagnostics.NewKVSink(diagKV)

	dlqKV, err := state.OpenKV(filepath.Join(*dataDir, "deadletter.db"), "deadletter_kv")
	if err != nil {
		log.Fatalf("logpipe: open dead-letter state: %v", err)
	}
	defer dlqKV.Close()
	dlq, err := deadletter.NewKVStore(dlqKV)
	if err != nil {
		log.Fatalf("logpipe: init dead-letter store: %v", err)
	}

	reg := prometheus.NewRegistry()
	met := metrics.NewPrometheus(reg)

	batchCfg := batcherConfigFromEnv()
	dispatcher := shard.NewWithStores(st, durableKV, diag, dlq, met, batchCfg)

	plan, err := planner.Compile(firehoseConfigFromEnv(), userRoutesFromFile(*routesPath))
	if err != nil {
		log.Fatalf("logpipe: compile log plan: %v", err)
	}
	log.Printf("logpipe: compiled %d routes", len(plan))

	ep := entrypoint.New(plan, dispatcher, assembler.Config{MaxBodySize: intEnv("MAX_BODY_SIZE", assembler.DefaultMaxBodySize)}, processEnv())

	tokenStore := controller.NewStore(filepath.Join(*dataDir, "tokens.enc"))
	if err := tokenStore.Load(); err != nil {
		log.Fatalf("logpipe: load token store: %v", err)
	}
	auth, err := adminapi.NewAuthenticator(tokenStore)
	if err != nil {
		log.Fatalf("logpipe: init authenticator: %v", err)
	}
	cleanupCtx, cancelCleanup := context.WithCancel(context.Background())
	defer cancelCleanup()
	dispatcher.Registry().StartCleanupLoop(cleanupCtx, 30*time.Second, 65*time.Second)

	admin := adminapi.New(diag, dlq, tokenStore, dispatcher.Registry(), auth, *adminAddr, clusterPeersFromEnv())

	go func() {
		log.Printf("logpipe: admin API listening on %s", *adminAddr)
		if err := admin.ListenAndServe(); err != nil {
			log.Printf("logpipe: admin API stopped: %v", err)
		}
	}()

	metricsSrv := &http.Server{Addr: ":9091", Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	go func() {
		log.Println("logpipe: metrics listening on :9091/metrics")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("logpipe: metrics server stopped: %v", err)
		}
	}()

	c := cron.New()
	if _, err := c.AddFunc(*cronSpec, func() {
		log.Println("logpipe: running scheduled retention pruning")
		ep.RunScheduledPruning(context.Background())
	}); err != nil {
		log.Fatalf("logpipe: schedule pruning cron: %v", err)
	}
	c.Start()
	log.Printf("logpipe: retention pruning scheduled %q", *cronSpec)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("logpipe: received %v, shutting down", sig)

	cronCtx := c.Stop()
	<-cronCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := ep.Shutdown(ctx); err != nil {
		log.Printf("logpipe: entrypoint shutdown error: %v", err)
	}
	if err := admin.Shutdown(ctx); err != nil {
		log.Printf("logpipe: admin API shutdown error: %v", err)
	}
	if err := metricsSrv.Shutdown(ctx); err != nil {
		log.Printf("logpipe: metrics server shutdown error: %v", err)
	}

	log.Println("logpipe exited gracefully.")
}


func firehoseConfigFromEnv() planner.FirehoseConfig {
	table := os.Getenv("LOG_HOSE_TABLE")
	if table == "" {
		table = "log_firehose"
	}
	return planner.FirehoseConfig{
		TableName:           table,
		Filter:              json.RawMessage(os.Getenv("LOG_HOSE_FILTERS")),
		RetentionDays:       intEnv("LOG_HOSE_RETENTION_DAYS", 0),
		PruningIntervalDays: intEnv("LOG_HOSE_PRUNING_INTERVAL_DAYS", 0),
	}
}

// userRoutesFromFile loads the operator-declared route list, supplied at
// build or startup per the configuration surface (LogRouteConfig[]). A
// missing or empty path means "firehose only" (§4.3 S2).
func userRoutesFromFile(path string) []planner.RouteConfig {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("logpipe: read routes file %s: %v", path, err)
	}
	var routes []planner.RouteConfig
	if err := json.Unmarshal(data, &routes); err != nil {
		log.Fatalf("logpipe: parse routes file %s: %v", path, err)
	}
	return routes
}

func batcherConfigFromEnv() batcher.Config {
	return batcher.ParseConfig(os.Getenv)
}

// clusterPeersFromEnv reads CLUSTER_PEERS, a comma-separated list of the
// other instances' admin API base URLs in this deployment (e.g.
// "http://10.0.1.4:9090,http://10.0.1.5:9090"), used to fan cluster-wide
// diagnostics reads out across every process. Empty/unset means this
// instance runs alone and the cluster endpoints report 501.
func clusterPeersFromEnv() []string {
	raw := os.Getenv("CLUSTER_PEERS")
	if raw == "" {
		return nil
	}
	var peers []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			peers = append(peers, p)
		}
	}
	return peers
}

func intEnv(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// processEnv snapshots every LOGPIPE_ENV_-prefixed variable into the
// assembler's sanitized-on-write env (§4.4.9).
func processEnv() assembler.Env {
	env := assembler.Env{}
	const prefix = "LOGPIPE_ENV_"
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], prefix) {
			continue
		}
		env[strings.TrimPrefix(parts[0], prefix)] = parts[1]
	}
	return env
}

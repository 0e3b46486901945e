// Command governor is the CLI entry point for the orchestrator core:
// `governor run <config>` executes a configuration end to end,
// `governor validate <config>` only loads and builds the graph. The
// operator loader is an external capability (spec.md §6) — `run` hands
// the controller a freshly created, empty loader.RegistryLoader, so
// every operator in a configuration fails to load with a loader error.
// There is no package-level registry that other packages could register
// constructors into before main runs.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/mproissl/governor/internal/audit"
	"github.com/mproissl/governor/internal/config"
	"github.com/mproissl/governor/internal/controller"
	"github.com/mproissl/governor/internal/graph"
	"github.com/mproissl/governor/internal/health"
	"github.com/mproissl/governor/internal/loader"
	"github.com/mproissl/governor/internal/logger"
	"github.com/mproissl/governor/internal/telemetry"
	"github.com/mproissl/governor/internal/tracing"
)

var (
	logDir         string
	otlpEndpoint   string
	metricsAddr    string
	grpcHealthAddr string
	auditDBPath    string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "governor",
		Short: "Configuration-driven operator orchestrator",
		Long: `governor loads a header+payload configuration describing a DAG of
operators, builds the graph, and runs it to completion via the
recursive scheduler.`,
	}

	cmd.PersistentFlags().StringVar(&logDir, "log-dir", "./logs", "directory for per-run JSON event logs")
	cmd.PersistentFlags().StringVar(&otlpEndpoint, "otlp-endpoint", "", "OTLP/HTTP trace collector endpoint (tracing disabled if empty)")
	cmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve /metrics and /healthz on during run")
	cmd.PersistentFlags().StringVar(&grpcHealthAddr, "grpc-health-addr", ":9091", "address to serve the grpc.health.v1 Health service on during run")
	cmd.PersistentFlags().StringVar(&auditDBPath, "audit-db", "", "path to a SQLite audit ledger (disabled if empty)")

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newValidateCommand())

	return cmd
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <config>",
		Short: "Run a configuration to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(cmd.Context(), args[0])
		},
	}
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config>",
		Short: "Load a configuration and build its graph without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(args[0])
		},
	}
}

func validateConfig(source string) error {
	root, err := config.Load(source)
	if err != nil {
		return err
	}

	specs := make([]graph.NodeSpec, 0, len(root.Payload.Operators))
	for _, op := range root.Payload.Operators {
		ids, err := op.RunAfterIDs()
		if err != nil {
			return err
		}
		specs = append(specs, graph.NodeSpec{ID: op.ID, RunAfter: ids})
	}

	g, err := graph.Build(specs)
	if err != nil {
		return err
	}

	fmt.Printf("config valid: %d operators, %d roots\n", len(specs), len(g.Roots()))
	return nil
}

func runConfig(ctx context.Context, source string) error {
	runID, err := logger.Init(logDir, "")
	if err != nil {
		return fmt.Errorf("governor: initializing logger: %w", err)
	}
	defer logger.Close()

	if otlpEndpoint != "" {
		if err := tracing.Init("governor", otlpEndpoint); err != nil {
			return fmt.Errorf("governor: initializing tracing: %w", err)
		}
		defer tracing.Shutdown()
	}

	var ledger *audit.Ledger
	if auditDBPath != "" {
		ledger, err = audit.Open(auditDBPath)
		if err != nil {
			return fmt.Errorf("governor: opening audit ledger: %w", err)
		}
		defer ledger.Close()
		ledger.Append(runID, audit.EventRunStart, "", map[string]string{"source": source})
	}

	tracker := health.NewTracker()
	httpServer := startSideServer(tracker)
	defer shutdownSideServer(httpServer)

	grpcServer, grpcListener, err := startGRPCHealthServer(tracker)
	if err != nil {
		return fmt.Errorf("governor: starting grpc health server: %w", err)
	}
	defer func() {
		grpcServer.GracefulStop()
		grpcListener.Close()
	}()

	ctrl := controller.New(loader.NewRegistryLoader(), ledger)
	result, runErr := ctrl.Run(ctx, source, runID)

	if ledger != nil {
		if runErr != nil {
			ledger.Append(runID, audit.EventRunEnd, "", map[string]string{"status": "error", "message": runErr.Error()})
		} else {
			ledger.Append(runID, audit.EventRunEnd, "", map[string]any{"status": "ok", "keys": result.Shared.Keys()})
		}
	}

	if runErr != nil {
		tracker.Set(health.StatusNotServing)
		return fmt.Errorf("governor: run %s failed: %w", runID, runErr)
	}

	fmt.Printf("run %s completed: %d shared keys\n", result.RunID, len(result.Shared.Keys()))
	return nil
}

func startSideServer(tracker *health.Tracker) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", tracker.HTTPHandler())
	mux.Handle("/metrics", telemetry.Handler())

	srv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "governor: side server error: %v\n", err)
		}
	}()
	return srv
}

func shutdownSideServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

// startGRPCHealthServer stands up the actual grpc.Server backing
// health.Tracker's grpc_health_v1.HealthServer implementation, so
// infrastructure that only speaks the standard gRPC health-checking
// protocol (e.g. Kubernetes gRPC probes, service meshes) has something
// real to dial instead of just a JSON HTTP endpoint.
func startGRPCHealthServer(tracker *health.Tracker) (*grpc.Server, net.Listener, error) {
	lis, err := net.Listen("tcp", grpcHealthAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on %s: %w", grpcHealthAddr, err)
	}

	srv := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, tracker)

	go func() {
		if err := srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
			fmt.Fprintf(os.Stderr, "governor: grpc health server error: %v\n", err)
		}
	}()
	return srv, lis, nil
}

func init() {
	signal.Ignore(syscall.SIGPIPE)
}

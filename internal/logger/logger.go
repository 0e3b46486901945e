// Package logger writes a per-run structured JSONL event log,
// grounded on hdrp/internal/logger/logger.go's InitLogger/LogEvent,
// generalized away from HDRP's orchestrator/researcher/critic
// component labels to the scheduler/worker/controller components
// this orchestrator actually has.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Component names used as the "component" field of every event.
const (
	ComponentController = "controller"
	ComponentScheduler   = "scheduler"
	ComponentWorker      = "worker"
	ComponentGraph       = "graph"
)

var (
	currentLogger *slog.Logger
	logFile       *os.File
)

// Init opens dir/<runID>.jsonl (creating dir if needed) and points
// all subsequent LogEvent calls at it. An empty runID generates one.
func Init(dir, runID string) (string, error) {
	if runID == "" {
		runID = uuid.New().String()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("logger: creating log dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s.jsonl", runID))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("logger: opening log file: %w", err)
	}
	logFile = f

	handler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo})
	currentLogger = slog.New(handler)

	LogEvent(context.Background(), runID, ComponentController, "run_start", map[string]string{
		"message": "run started",
	})

	return runID, nil
}

// LogEvent writes one structured entry: timestamp (implicit, via
// slog), run id, component, event name, and an arbitrary payload.
func LogEvent(ctx context.Context, runID, component, event string, payload any) {
	if currentLogger == nil {
		currentLogger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	currentLogger.InfoContext(ctx, event,
		slog.String("run_id", runID),
		slog.String("component", component),
		slog.Any("payload", payload),
	)
}

// GenerateRunID returns a fresh run identifier.
func GenerateRunID() string {
	return uuid.New().String()
}

// Close closes the underlying log file, if one is open.
func Close() {
	if logFile != nil {
		logFile.Close()
	}
}

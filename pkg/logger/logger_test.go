package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerWritesToOutput(t *testing.T) {
	var buf bytes.Buffer
	log := CreateLoggerWithOutput("", "debug", &buf)

	log.Info("generation started", WithField("shapes", 4))

	output := buf.String()
	if !strings.Contains(output, "generation started") {
		t.Errorf("Missing message in output: %s", output)
	}
	if !strings.Contains(output, "shapes=4") {
		t.Errorf("Missing field in output: %s", output)
	}
	if !strings.Contains(output, "INFO") {
		t.Errorf("Missing level in output: %s", output)
	}
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := CreateLoggerWithOutput("", "warn", &buf)

	log.Debug("too quiet")
	log.Info("still too quiet")
	log.Warn("loud enough")

	output := buf.String()
	if strings.Contains(output, "too quiet") {
		t.Errorf("Below-level messages leaked: %s", output)
	}
	if !strings.Contains(output, "loud enough") {
		t.Errorf("Warn message missing: %s", output)
	}
}

func TestLoggerWithBatch(t *testing.T) {
	var buf bytes.Buffer
	log := CreateLoggerWithOutput("", "info", &buf)

	batchLog := log.WithBatch("batch-42")
	batchLog.Info("processing")

	output := buf.String()
	if !strings.Contains(output, "batch-42") {
		t.Errorf("Batch name missing from output: %s", output)
	}
}

func TestLoggerInvalidLevelFallsBack(t *testing.T) {
	var buf bytes.Buffer
	log := CreateLoggerWithOutput("", "nonsense", &buf)

	log.Info("hello")
	log.Debug("hidden at info level")

	output := buf.String()
	if !strings.Contains(output, "hello") {
		t.Errorf("Info message missing: %s", output)
	}
	if strings.Contains(output, "hidden at info level") {
		t.Errorf("Debug message should be suppressed at fallback level: %s", output)
	}
}

func TestSuccessMessage(t *testing.T) {
	var buf bytes.Buffer
	log := CreateLoggerWithOutput("", "info", &buf)

	log.Success("all batches complete")

	if !strings.Contains(buf.String(), "all batches complete") {
		t.Errorf("Success message missing: %s", buf.String())
	}
}

package notifier

import (
	"errors"
	"testing"

	"github.com/stonemason/stonemason/pkg/logger"
)

func TestDisabledNotifierIsNoop(t *testing.T) {
	log := logger.CreateLoggerWithOutput("", "debug", nil)
	n := New(Config{Enabled: false}, log)

	// None of these may panic or attempt delivery.
	n.NotifyGenerateCompleted(3)
	n.NotifyAllGenerateCompleted(0, 0)
	n.NotifyGenerateFailure(errors.New("boom"))
	n.NotifyQueueStatus(1, 10)
}

func TestQueueStatusThreshold(t *testing.T) {
	log := logger.CreateLoggerWithOutput("", "debug", nil)
	n := New(Config{Enabled: true}, log)

	// Below the backlog threshold nothing is sent; this must return quickly
	// and quietly even on systems without a notification daemon.
	n.NotifyQueueStatus(2, 3)
}

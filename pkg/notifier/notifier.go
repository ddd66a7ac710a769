// Package notifier provides desktop notifications for generation events
package notifier

import (
	"fmt"

	"github.com/gen2brain/beeep"

	"github.com/stonemason/stonemason/pkg/logger"
)

// GenerateNotifier surfaces generation lifecycle events as desktop
// notifications. Disabled notifiers are cheap no-ops.
type GenerateNotifier struct {
	enabled      bool
	successSound string
	failureSound string
	logger       logger.Logger
}

// Config represents notification configuration
type Config struct {
	Enabled      bool
	SuccessSound string
	FailureSound string
}

// New creates a new generate notifier
func New(config Config, log logger.Logger) *GenerateNotifier {
	return &GenerateNotifier{
		enabled:      config.Enabled,
		successSound: config.SuccessSound,
		failureSound: config.FailureSound,
		logger:       log,
	}
}

// NotifyGenerateCompleted reports the number of generate calls still
// outstanding after one completes. Only logged; the desktop notification
// fires when the count drains to zero.
func (n *GenerateNotifier) NotifyGenerateCompleted(remaining int) {
	if !n.enabled {
		return
	}

	n.logger.Debug("Generate call completed", logger.WithField("remaining", remaining))
}

// NotifyAllGenerateCompleted notifies that every outstanding generate call
// has drained, with the warning/error counts aggregated since the last drain.
func (n *GenerateNotifier) NotifyAllGenerateCompleted(warnings int, errors int) {
	if !n.enabled {
		return
	}

	title := "✅ Generation Complete"
	message := "All generate calls finished"
	sound := n.successSound

	if warnings > 0 || errors > 0 {
		title = "⚠️ Generation Complete"
		message = fmt.Sprintf("Finished with %d warning(s), %d error(s)", warnings, errors)
	}

	n.sendNotification(title, message, sound)
}

// NotifyGenerateFailure notifies that a generate call failed
func (n *GenerateNotifier) NotifyGenerateFailure(err error) {
	if !n.enabled {
		return
	}

	title := "❌ Generation Failed"
	message := fmt.Sprintf("%v", err)

	n.sendNotification(title, message, n.failureSound)
}

// NotifyQueueStatus notifies about dispatch queue pressure
func (n *GenerateNotifier) NotifyQueueStatus(active int, queued int) {
	if !n.enabled {
		return
	}

	// Only notify if there's a significant backlog
	if queued > 5 {
		title := "⏳ Generation Queue"
		message := fmt.Sprintf("%d active, %d queued", active, queued)
		n.sendNotification(title, message, "")
	}
}

// Private methods

func (n *GenerateNotifier) sendNotification(title, message, soundName string) {
	if err := beeep.Notify(title, message, ""); err != nil {
		n.logger.Debug("Failed to send notification", logger.WithField("error", err))
	}

	if soundName != "" {
		if err := beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration); err != nil {
			n.logger.Debug("Failed to play sound", logger.WithField("error", err))
		}
	}
}

package metrics

import "time"

// Outcome labels.
const (
	OutcomeAlreadyVerified = "already_verified"
	OutcomeSucceeded       = "succeeded"
	OutcomeFailed          = "failed"
	OutcomeSkipped         = "skipped"
)

// StatusCheck records an already-verified lookup.
func StatusCheck(network, result string) {
	if !Enabled() {
		return
	}
	statusCheckTotal.WithLabelValues(network, result).Inc()
}

// Submission records a verification submission.
func Submission(network, result string) {
	if !Enabled() {
		return
	}
	submissionTotal.WithLabelValues(network, result).Inc()
}

// Poll records one status poll of a queued submission.
func Poll(network, result string) {
	if !Enabled() {
		return
	}
	pollTotal.WithLabelValues(network, result).Inc()
}

// Outcome records the final outcome of one contract.
func Outcome(network, outcome string, n int) {
	if !Enabled() || n == 0 {
		return
	}
	outcomeTotal.WithLabelValues(network, outcome).Add(float64(n))
}

// ExplorerRequest records the latency of an explorer API call.
func ExplorerRequest(operation string, d time.Duration) {
	if !Enabled() {
		return
	}
	explorerDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// Run records the wall time of a verification run.
func Run(d time.Duration) {
	if !Enabled() {
		return
	}
	runDuration.Observe(d.Seconds())
}

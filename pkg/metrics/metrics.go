// Package metrics holds the Prometheus collectors exported by the shopcore
// binaries. Every constructor accepts a nil Registerer and returns a no-op
// collector in that case.
package metrics

const namespace = "shopcore"

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func outcomeOf(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

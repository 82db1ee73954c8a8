package coordinator

import "strings"

// Error classes used for failure metrics.
const (
	ErrClassPermission = "permission"
	ErrClassOther      = "other"
)

// Classify buckets a run failure for metrics. Permission denials from the
// host are worth telling apart from everything else: they need operator
// action, not retries.
func Classify(err error) string {
	if err == nil {
		return ErrClassOther
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "missing permission"),
		strings.Contains(msg, "missing access"),
		strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "403"):
		return ErrClassPermission
	default:
		return ErrClassOther
	}
}

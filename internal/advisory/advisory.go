// Package advisory maps application destinations to their broker-generated
// advisory counterparts (spec.md §2, "AdvisorySupport" — trivial).
package advisory

import "strings"

const (
	prefixConnection = "ActiveMQ.Advisory.Connection"
	prefixProducer   = "ActiveMQ.Advisory.Producer"
	prefixConsumer   = "ActiveMQ.Advisory.Consumer"
	prefixDLQ        = "ActiveMQ.DLQ"
)

// ConnectionAdvisoryDestination returns the advisory destination that
// carries connection add/remove notifications.
func ConnectionAdvisoryDestination() string { return prefixConnection }

// ProducerAdvisoryDestination returns the advisory destination for
// producer add/remove notifications on destination.
func ProducerAdvisoryDestination(destination string) string {
	return prefixProducer + "." + destination
}

// ConsumerAdvisoryDestination returns the advisory destination for
// consumer add/remove notifications on destination.
func ConsumerAdvisoryDestination(destination string) string {
	return prefixConsumer + "." + destination
}

// DLQDestination returns the dead-letter destination paired with
// destination.
func DLQDestination(destination string) string {
	return prefixDLQ + "." + destination
}

// IsAdvisory reports whether destination is itself an advisory or DLQ
// destination, used to keep the audit/replay path from treating advisory
// traffic as application traffic.
func IsAdvisory(destination string) bool {
	return strings.HasPrefix(destination, "ActiveMQ.Advisory.") || strings.HasPrefix(destination, prefixDLQ)
}

// Package sinks implements change-event consumers for the events bus:
// structured logging, Prometheus counters, broker publishing and snapshot
// archiving. Each sink satisfies events.Sink and tolerates repeated
// Consume calls.
package sinks

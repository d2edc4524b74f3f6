// Package events fans change events out to live subscribers and to batched
// sinks.
//
// Publishing never blocks. Each subscriber owns a bounded buffer; when it is
// full the event is dropped for that subscriber only and counted. Sinks receive
// events in batches from a separate bounded queue with the same drop rule, so
// a slow sink cannot stall the check pipeline or the live stream. Delivery is
// best effort: nothing is persisted or redelivered.
package events

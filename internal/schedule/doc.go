// Package schedule decides when each watched resource is checked next and
// drives the tick loop that dispatches due checks concurrently.
package schedule

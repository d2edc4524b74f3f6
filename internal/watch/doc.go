// Package watch defines the domain types and collaborator interfaces shared by
// the scheduler, the check pipeline, the stores and the HTTP API.
package watch

// Package services holds the bus-facing handlers of the orchestrator and the
// Router that subscribes them.
//
// Each Service binds one topic to one handler. The Router wraps every
// handler with a per-service rate limit, panic recovery, a timeout and
// request logging; handler errors are logged and the message is dropped.
package services

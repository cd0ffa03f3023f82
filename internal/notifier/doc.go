// Package notifier delivers fired reminders to one or more sinks.
//
// Publish is non-blocking: notifications are queued and a small worker pool
// delivers them with a token-bucket rate limit and jittered exponential
// retry. A fire of the same reminder within the same minute is delivered
// once (dedup window).
//
// # Sinks
//
// BusSink publishes the concept to the notifications topic. TelegramSink
// sends a short text to a chat. Sinks are independent; a failing sink does
// not block the others.
//
// # History
//
// The service keeps a small in-memory history of delivered notifications.
package notifier

// Package notify tells people about committed assignments and status
// changes.
//
// Services call Notifier.Notify after their transaction commits, passing
// the old and new values explicitly. Delivery happens in the background:
// a slow or failing sink never delays or undoes the change that triggered
// it. Failures are logged at error level and counted in
// permitdesk_notification_failures_total.
//
// Sinks:
//
//   - RedisPublisher: PUBLISH on a channel plus a capped backlog list
//   - WebhookSender: signed JSON POST with exponential backoff retries
//   - LogSink: structured log line, used when nothing else is configured
//
// Webhook receivers verify requests with VerifySignature on the raw body
// and the X-Permitdesk-Signature header.
package notify

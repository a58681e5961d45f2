// Package config loads application configuration from environment variables.
//
// Server settings:
//
//	PERMITDESK_HOST="0.0.0.0"
//	PERMITDESK_PORT="8080"
//	PERMITDESK_HEALTH_PORT="9090"
//
// Persistence:
//
//	PERMITDESK_POSTGRES_URL="postgres://localhost/permitdesk?sslmode=disable"
//	PERMITDESK_POSTGRES_MAX_CONNS="20"
//	PERMITDESK_REDIS_URL="redis://localhost:6379/0"   # optional
//
// Authorization and assignment:
//
//	PERMITDESK_ROLE_CACHE_TTL="30s"
//	PERMITDESK_HIERARCHY_FILE="/etc/permitdesk/hierarchy.yaml"
//	PERMITDESK_AUTO_ASSIGN_ROLE="junior_clerk"
//	PERMITDESK_ASSIGN_RETRIES="3"
//
// Notifications and jobs:
//
//	PERMITDESK_NOTIFY_WEBHOOK_URL="https://hooks.example.com/permits"
//	PERMITDESK_EXPIRE_SCHEDULE="10 0 * * *"
//
// Observability:
//
//	PERMITDESK_LOG_LEVEL="info"
//	PERMITDESK_OTEL_ENABLED="true"
//	PERMITDESK_OTEL_ENDPOINT="otel-collector:4317"
//
// Usage:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config

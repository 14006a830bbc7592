package logging

import "github.com/go-logr/logr"

// Audit event types emitted by the release engine. Every destructive action
// against the host (container removal, pruning, directory rotation, fallback
// restart) produces one of these.
const (
	EventContainerStopped = "container_stopped"
	EventContainerRemoved = "container_removed"
	EventOrphanPruned     = "orphan_pruned"
	EventDirectoryRotated = "directory_rotated"
	EventFallbackStarted  = "fallback_started"
	EventProjectReleased  = "project_released"
	EventProjectFailed    = "project_failed"
)

// LogAuditEvent logs a structured audit event for engine actions.
// Audit events are distinct from regular debug/info logs and are tagged
// with "audit=true" for easy filtering in log aggregation systems.
func LogAuditEvent(logger logr.Logger, eventType string, fields map[string]string) {
	auditLogger := logger.WithValues("audit", "true", "event_type", eventType)
	for key, value := range fields {
		auditLogger = auditLogger.WithValues(key, value)
	}
	auditLogger.Info("Release engine audit event")
}

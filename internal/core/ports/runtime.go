// Package ports defines the core interfaces the service is assembled from.
package ports

import (
	"context"

	"github.com/tjfontaine/polyglot-lingua/internal/pkg/config"
)

// ConfigProvider loads and manages configuration.
// Implementations: file-based with hot reload (default).
type ConfigProvider interface {
	Load(ctx context.Context) (*config.Config, error)
	Watch(ctx context.Context, onChange func(*config.Config)) error
	Close() error
}

// NotificationLevel is the severity of a user-facing notification.
type NotificationLevel string

const (
	LevelInfo  NotificationLevel = "info"
	LevelError NotificationLevel = "error"
)

// Notification is a non-blocking message for a user, such as a failed
// history write.
type Notification struct {
	UserID  string            `json:"userId"`
	Level   NotificationLevel `json:"level"`
	Message string            `json:"message"`
	Kind    string            `json:"kind,omitempty"`
}

// Notifier delivers notifications. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

package notification

import (
	"fmt"
	"sync"
	"time"
)

var (
	instance   *Service
	instanceMu sync.RWMutex
	once       sync.Once
)

// Initialize sets up the global notification service instance
func Initialize(config *ServiceConfig) {
	once.Do(func() {
		instanceMu.Lock()
		defer instanceMu.Unlock()
		instance = NewService(config)
	})
}

// GetService returns the global notification service instance, nil before Initialize
func GetService() *Service {
	instanceMu.RLock()
	defer instanceMu.RUnlock()
	return instance
}

// SetService replaces the global service instance, mainly for testing
func SetService(service *Service) {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	instance = service
}

// IsInitialized checks if the notification service has been initialized
func IsInitialized() bool {
	instanceMu.RLock()
	defer instanceMu.RUnlock()
	return instance != nil
}

// NotifyInfo creates an informational notification
func NotifyInfo(title, message string) {
	service := GetService()
	if service == nil {
		return
	}

	_, _ = service.Create(TypeInfo, PriorityLow, title, message)
}

// NotifyWarning creates a warning notification
func NotifyWarning(component, title, message string) {
	service := GetService()
	if service == nil {
		return
	}

	_, _ = service.CreateWithComponent(TypeWarning, PriorityMedium, title, message, component)
}

// NotifyIntegrationFailure creates a notification for integration failures
// (MQTT broker, backup target, chat service and similar outbound paths).
func NotifyIntegrationFailure(integration string, err error) {
	service := GetService()
	if service == nil {
		return
	}

	title := fmt.Sprintf("%s Integration Failed", integration)
	message := fmt.Sprintf("Failed to connect or send data: %v", err)

	_, _ = service.CreateWithComponent(TypeError, PriorityHigh, title, message, integration)
}

// NotifyResourceAlert creates a notification when a system resource crosses a
// configured usage threshold. The label qualifies disk alerts with the
// affected mount point.
func NotifyResourceAlert(resource, label string, priority Priority, current, threshold float64) {
	service := GetService()
	if service == nil {
		return
	}

	title := fmt.Sprintf("High %s Usage", resource)
	message := fmt.Sprintf("Current: %.1f%% (threshold: %.1f%%)", current, threshold)
	if label != "" {
		message += fmt.Sprintf(" on %s", label)
	}

	notification, _ := service.CreateWithComponent(TypeWarning, priority, title, message, "system")
	if notification != nil {
		notification.
			WithMetadata("resource", resource).
			WithMetadata("current_value", current).
			WithMetadata("threshold", threshold)
		if label != "" {
			notification.WithMetadata("mount_point", label)
		}
		notification.WithExpiry(30 * time.Minute)
		_ = service.store.Update(notification)
	}
}

// NotifyResourceRecovery creates a notification when a resource that raised
// an alert drops back below its threshold.
func NotifyResourceRecovery(resource, label string, current float64) {
	service := GetService()
	if service == nil {
		return
	}

	title := fmt.Sprintf("%s Usage Normal", resource)
	message := fmt.Sprintf("Current: %.1f%%", current)
	if label != "" {
		message += fmt.Sprintf(" on %s", label)
	}

	notification, _ := service.CreateWithComponent(TypeInfo, PriorityLow, title, message, "system")
	if notification != nil {
		notification.
			WithMetadata("resource", resource).
			WithMetadata("current_value", current)
		if label != "" {
			notification.WithMetadata("mount_point", label)
		}
		notification.WithExpiry(30 * time.Minute)
		_ = service.store.Update(notification)
	}
}

// NotifyStartup creates a notification when the application starts
func NotifyStartup(version string) {
	service := GetService()
	if service == nil {
		return
	}

	title := "CareBell-Go Started"
	message := fmt.Sprintf("Call monitoring is running (v%s)", version)

	notification, _ := service.CreateWithComponent(TypeInfo, PriorityLow, title, message, "system")
	if notification != nil {
		notification.WithExpiry(5 * time.Minute)
		_ = service.store.Update(notification)
	}
}

// NotifyShutdown creates a notification when the application is shutting down
func NotifyShutdown() {
	service := GetService()
	if service == nil {
		return
	}

	_, _ = service.CreateWithComponent(TypeInfo, PriorityMedium, "CareBell-Go Shutting Down", "Call monitoring is stopping.", "system")
}

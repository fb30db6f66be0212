package common

// Notifier defines the interface for sending desktop notifications.
// Delivery is best-effort; implementations drop messages when no
// notification service is reachable.
type Notifier interface {
	// Notify sends a notification with the given title and message.
	Notify(title, message string)
	// NotifyUrgent sends a high-urgency notification.
	NotifyUrgent(title, message string)
}

// Logger defines the interface for structured logging.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...interface{})
	// Info logs an informational message.
	Info(msg string, args ...interface{})
	// Warn logs a warning message.
	Warn(msg string, args ...interface{})
	// Error logs an error message.
	Error(msg string, args ...interface{})
}

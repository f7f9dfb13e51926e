package logging

// Convenience helpers for the hot-path categories. These mirror
// Get(category).Info/Debug so call sites stay terse.

// Brain logs to the brain category at info level.
func Brain(format string, args ...interface{}) {
	Get(CategoryBrain).Info(format, args...)
}

// BrainDebug logs to the brain category at debug level.
func BrainDebug(format string, args ...interface{}) {
	Get(CategoryBrain).Debug(format, args...)
}

// Executor logs to the executor category at info level.
func Executor(format string, args ...interface{}) {
	Get(CategoryExecutor).Info(format, args...)
}

// ExecutorDebug logs to the executor category at debug level.
func ExecutorDebug(format string, args ...interface{}) {
	Get(CategoryExecutor).Debug(format, args...)
}

// Actuator logs to the actuator category at info level.
func Actuator(format string, args ...interface{}) {
	Get(CategoryActuator).Info(format, args...)
}

// ActuatorDebug logs to the actuator category at debug level.
func ActuatorDebug(format string, args ...interface{}) {
	Get(CategoryActuator).Debug(format, args...)
}

// Monitor logs to the monitor category at info level.
func Monitor(format string, args ...interface{}) {
	Get(CategoryMonitor).Info(format, args...)
}

// MonitorDebug logs to the monitor category at debug level.
func MonitorDebug(format string, args ...interface{}) {
	Get(CategoryMonitor).Debug(format, args...)
}

// Mode logs to the mode category at info level.
func Mode(format string, args ...interface{}) {
	Get(CategoryMode).Info(format, args...)
}

// Permission logs to the permission category at info level.
func Permission(format string, args ...interface{}) {
	Get(CategoryPermission).Info(format, args...)
}

// Plugin logs to the plugin category at info level.
func Plugin(format string, args ...interface{}) {
	Get(CategoryPlugin).Info(format, args...)
}

// API logs to the api category at debug level; raw request/response
// traces are always debug.
func API(format string, args ...interface{}) {
	Get(CategoryAPI).Debug(format, args...)
}

// Boot logs to the boot category at info level.
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

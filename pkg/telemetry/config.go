package telemetry

// LoggingConfig configures the logger.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error, fatal.
	Level string `yaml:"level"`

	// Format is "json" or "console".
	Format string `yaml:"format"`

	// Output is "stdout", "stderr", or a file path.
	Output string `yaml:"output"`

	// EnableCaller adds file:line information to log events.
	EnableCaller bool `yaml:"enable_caller"`
}

// DefaultLoggingConfig returns console logging on stderr at info level.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "console",
		Output: "stderr",
	}
}

// TracingConfig configures the tracer.
type TracingConfig struct {
	// Enabled turns span export on.
	Enabled bool `yaml:"enabled"`

	// ServiceName tags exported spans.
	ServiceName string `yaml:"service_name"`

	// PrettyPrint renders exported spans as indented JSON.
	PrettyPrint bool `yaml:"pretty_print"`
}

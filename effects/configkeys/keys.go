package configkeys

const (
	delimiter = "."

	ConfigPrefix = "config"

	ConfigLogPrefix = ConfigPrefix + delimiter + "log"
	ConfigLogLevel  = ConfigLogPrefix + delimiter + "level"

	ConfigRunnerPrefix = ConfigPrefix + delimiter + "runner"

	ConfigRunnerEventPrefix     = ConfigRunnerPrefix + delimiter + "event"
	ConfigRunnerEventKind       = ConfigRunnerEventPrefix + delimiter + "kind"
	ConfigRunnerEventBufferSize = ConfigRunnerEventPrefix + delimiter + "buffer_size"
	ConfigRunnerEventNumWorkers = ConfigRunnerEventPrefix + delimiter + "num_workers"

	ConfigRunnerEffectPrefix     = ConfigRunnerPrefix + delimiter + "effect"
	ConfigRunnerEffectKind       = ConfigRunnerEffectPrefix + delimiter + "kind"
	ConfigRunnerEffectBufferSize = ConfigRunnerEffectPrefix + delimiter + "buffer_size"
	ConfigRunnerEffectNumWorkers = ConfigRunnerEffectPrefix + delimiter + "num_workers"
)

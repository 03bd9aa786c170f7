package agent

// Config points the agent at its data directory and the user-driven
// configuration files. Only the tuning file is live-reloaded; changing the
// data directory requires a restart.
type Config struct {
	DataDir      string `json:"dataDir"`
	TuningConfig string `json:"tuningConfig"`
}

// Tuning holds the retry and timing knobs of the protocol layer. The file
// is watched, so edits apply to the next device probe without a restart.
type Tuning struct {
	// BusyAttempts bounds retries of a flash write while the device
	// answers busy.
	BusyAttempts int `json:"busyAttempts"`

	// BusyDelayMS is the pause between busy retries.
	BusyDelayMS int `json:"busyDelayMs"`

	// SettleDelayMS is the pause before re-reading after a transport
	// timeout.
	SettleDelayMS int `json:"settleDelayMs"`

	// ReadTimeoutMS bounds each transport read.
	ReadTimeoutMS int `json:"readTimeoutMs"`

	// PollIntervalMS is how often the device list is re-enumerated.
	PollIntervalMS int `json:"pollIntervalMs"`
}

// DefaultTuning matches the timings mice are known to tolerate.
func DefaultTuning() Tuning {
	return Tuning{
		BusyAttempts:   10,
		BusyDelayMS:    10,
		SettleDelayMS:  10,
		ReadTimeoutMS:  1000,
		PollIntervalMS: 1000,
	}
}

package transfer

import "time"

// BackoffConfig shapes the pause before a chunk is resent.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines chunk retry and wait behavior.
type Config struct {
	// MaxRetries is the number of resends of one chunk after the first
	// attempt before the transfer fails.
	MaxRetries     int
	Timeout        time.Duration
	PollInterval   time.Duration
	TransferGap    time.Duration
	TxAttempts     int
	VerifyChecksum bool
	Backoff        BackoffConfig
}

// DefaultConfig returns the values the pack controller firmware expects.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		Timeout:      time.Second,
		PollInterval: 10 * time.Millisecond,
		TransferGap:  10 * time.Millisecond,
		TxAttempts:   50,
		Backoff: BackoffConfig{
			InitialDelay: 100 * time.Millisecond,
			Multiplier:   1.0,
		},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.PollInterval > c.Timeout {
		c.PollInterval = c.Timeout
	}
	if c.TxAttempts <= 0 {
		c.TxAttempts = def.TxAttempts
	}
	if c.TransferGap < 0 {
		c.TransferGap = 0
	}
	return c
}

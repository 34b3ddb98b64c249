package training

import "time"

// Config bounds the retrieval path.
type Config struct {
	DefaultTopK      int
	MaxTopK          int
	RetrievalTimeout time.Duration
	MaxBatchSize     int
}

func (c Config) withDefaults() Config {
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = 4
	}
	if c.MaxTopK <= 0 {
		c.MaxTopK = 20
	}
	if c.RetrievalTimeout <= 0 {
		c.RetrievalTimeout = 3 * time.Second
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 500
	}
	return c
}

package repository

// Default registry configuration constants.
const (
	defaultShardCount = 64
)

// config holds the store configuration shared by every value type.
type config struct {
	shards int
	name   string
}

// Option applies a configuration option to a ShardedStore.
type Option func(*config)

// WithShardCount sets the number of independently locked shards.
func WithShardCount(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.shards = n
		}
	}
}

// WithName labels the store in metrics.
func WithName(name string) Option {
	return func(c *config) {
		if name != "" {
			c.name = name
		}
	}
}

package tiermap

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The coordinator calls them on hot paths.
type Hooks interface {
	// The cache tier failed; the operation continued on the durable result.
	CacheError(op, key string, err error)

	// The coordinator rewrote the cache toward the durable result.
	// action ∈ {"overwrote", "evicted"}
	CacheRepaired(op, key, action string)

	// The durable tier failed; the error was returned to the caller.
	DurableError(op, key string, err error)

	// A cached value was dropped on read.
	// reason ∈ {"value_decode"}
	SelfHeal(key, reason string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) CacheError(string, string, error)    {}
func (NopHooks) CacheRepaired(string, string, string) {}
func (NopHooks) DurableError(string, string, error)  {}
func (NopHooks) SelfHeal(string, string)             {}

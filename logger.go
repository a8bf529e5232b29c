package tiermap

import "github.com/unkn0wn-root/tiermap/kv"

// Logger is the leveled logger used by every tier. Provide an adapter around your
// logging stack (see log/zap, log/logrus, log/slog). If Logger is nil in Options,
// logging is disabled.
type (
	Logger    = kv.Logger
	Fields    = kv.Fields
	NopLogger = kv.NopLogger
)

package program

// CompilerConfig bounds the compiler's internal passes. Built
// functional-options style, following the configuration pattern this
// codebase uses wherever a caller might want to override a default without
// the zero value meaning something else.
type CompilerConfig struct {
	// MaxInferencePasses caps a block's own inference solver, threaded down
	// via lower.Context.MaxInferencePasses — Compile itself never runs a
	// solver pass (each block's lower() owns that), so this is a ceiling
	// handed to the block, not a loop Compile runs directly.
	MaxInferencePasses int
}

// CompilerOption mutates a CompilerConfig under construction.
type CompilerOption func(*CompilerConfig)

// WithMaxInferencePasses overrides the default inference pass cap.
func WithMaxInferencePasses(n int) CompilerOption {
	return func(c *CompilerConfig) { c.MaxInferencePasses = n }
}

const defaultMaxInferencePasses = 1000

// NewCompilerConfig builds a CompilerConfig from its defaults plus opts, in
// order.
func NewCompilerConfig(opts ...CompilerOption) CompilerConfig {
	cfg := CompilerConfig{MaxInferencePasses: defaultMaxInferencePasses}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

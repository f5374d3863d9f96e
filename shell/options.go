package shell

// Option tweaks shell parameters via the usual functional-option pattern.
type Option func(*options)

// WithFormat selects how inbound frames are printed: "tabular" (default) or
// "json".
func WithFormat(format string) Option {
	return func(o *options) { o.Format = format }
}

// WithPrompt overrides the REPL prompt string.
func WithPrompt(prompt string) Option {
	return func(o *options) { o.Prompt = prompt }
}

type options struct {
	Format string
	Prompt string
}

func defaultOptions() *options {
	return &options{
		Format: formatTabular,
		Prompt: "streamgate> ",
	}
}

const (
	formatTabular = "tabular"
	formatJSON    = "json"
)

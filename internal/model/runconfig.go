package model

// RunConfig is the immutable per-run configuration bundle supplied to Start.
// Provider fields name entries in the provider registry; empty means the
// default provider. Instruction fields are appended verbatim to the phase
// prompts.
type RunConfig struct {
	AutoApprove         bool   `json:"auto_approve"`
	OutlineProvider     string `json:"outline_provider,omitempty"`
	ContentProvider     string `json:"content_provider,omitempty"`
	OutlineInstructions string `json:"outline_instructions,omitempty"`
	ContentInstructions string `json:"content_instructions,omitempty"`
}

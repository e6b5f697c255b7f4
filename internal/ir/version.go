package ir

// Version constants for stored records and the tool itself.
const (
	// SchemaVersion is the version of the persisted record layout.
	SchemaVersion = "1"

	// ToolVersion is the zenddiff version recorded on every run.
	ToolVersion = "0.1.0"
)

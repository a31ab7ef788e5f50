package ir

// Version constants.
const (
	// IRVersion is the rule definition schema version.
	IRVersion = "1"

	// EngineVersion is the boardflow engine version.
	EngineVersion = "0.3.0"
)

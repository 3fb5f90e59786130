package constants

// ExtractionMethod identifies which orchestrator tier produced a result.
type ExtractionMethod string

// Stable values (recorded on results and metric snapshots).
const (
	MethodCache         ExtractionMethod = "cache"
	MethodPrimary       ExtractionMethod = "primary"
	MethodChunked       ExtractionMethod = "chunked"
	MethodFallbackModel ExtractionMethod = "fallback_model"
	MethodLegacySession ExtractionMethod = "legacy_session"
	MethodFailed        ExtractionMethod = "failed"
)

// TierOrder is the fixed attempt order of the orchestrator's strategies.
// CacheLookup precedes all of them and Failed is terminal.
var TierOrder = []ExtractionMethod{
	MethodPrimary,
	MethodChunked,
	MethodFallbackModel,
	MethodLegacySession,
}

package domain

// EngineEventKind tags one engine-native event. The reasoning graph emits a
// strict superset of the flat loop's kinds (artifact events).
type EngineEventKind string

const (
	EventTextDelta     EngineEventKind = "text_delta"
	EventToolStart     EngineEventKind = "tool_start"
	EventToolEnd       EngineEventKind = "tool_end"
	EventArtifactStart EngineEventKind = "artifact_start"
	EventArtifactChunk EngineEventKind = "artifact_chunk"
	EventArtifactEnd   EngineEventKind = "artifact_end"
	EventStatus        EngineEventKind = "status"
	EventError         EngineEventKind = "error"
	EventDone          EngineEventKind = "done"
)

// EngineEvent is the tagged union both engines emit. One adapter maps it into
// the canonical Frame set; nothing downstream sniffs engine shapes.
type EngineEvent struct {
	Kind EngineEventKind

	Text string

	CallID string
	Tool   string
	Args   map[string]any
	Result string

	ArtifactID    string
	ArtifactKind  string
	ArtifactTitle string
	Chunk         []byte

	Status map[string]string

	ErrorMessage string

	FinishReason string
	Usage        TokenUsage
	Iterations   int
}

// EngineKind names the two execution engine variants.
type EngineKind string

const (
	EngineFlatToolLoop   EngineKind = "flat_tool_loop"
	EngineReasoningGraph EngineKind = "reasoning_graph"
)

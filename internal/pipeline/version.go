package pipeline

// EngineVersion identifies the engine build for audit provenance.
const EngineVersion = "0.3.0"

// SchemaVersion identifies the document schema generation.
const SchemaVersion = "v1"

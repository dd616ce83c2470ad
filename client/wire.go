package client

// Flight bindings of the engine RPCs. AnalyzePlan and ExecuteCommand ride
// DoAction; ExecutePlan rides DoGet with the request as the ticket. The
// plan payload stays opaque to the client; only the envelope around it is
// interpreted.
const (
	actionAnalyzePlan    = "AnalyzePlan"
	actionExecuteCommand = "ExecuteCommand"

	// methodExecutePlan labels the DoGet-based execute call in logs and
	// metrics; DoGet itself has no action name.
	methodExecutePlan = "ExecutePlan"

	// sessionMetadataKey is the response header echoing the session id on
	// ExecutePlan streams.
	sessionMetadataKey = "lakelink-session-id"

	clientType = "_LAKELINK_GO"
)

type analyzeRequest struct {
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id,omitempty"`
	ClientType  string `json:"client_type"`
	Plan        []byte `json:"plan"`
	ExplainMode int32  `json:"explain_mode"`
}

type analyzeResponse struct {
	SessionID     string   `json:"session_id"`
	Schema        []byte   `json:"schema"` // arrow IPC serialized
	ExplainString string   `json:"explain_string"`
	TreeString    string   `json:"tree_string"`
	IsLocal       bool     `json:"is_local"`
	IsStreaming   bool     `json:"is_streaming"`
	InputFiles    []string `json:"input_files"`
}

type executeTicket struct {
	SessionID  string `json:"session_id"`
	UserID     string `json:"user_id,omitempty"`
	ClientType string `json:"client_type"`
	Plan       []byte `json:"plan"`
}

type commandRequest struct {
	SessionID  string `json:"session_id"`
	UserID     string `json:"user_id,omitempty"`
	ClientType string `json:"client_type"`
	Command    []byte `json:"command"`
}

type commandResult struct {
	SessionID string `json:"session_id"`
}

// chunkMetadata is the app-metadata envelope attached to each data chunk of
// an ExecutePlan stream.
type chunkMetadata struct {
	SessionID string        `json:"session_id"`
	Metrics   []PlanMetrics `json:"metrics,omitempty"`
}

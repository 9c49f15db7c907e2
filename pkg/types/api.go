package types

// RegisterRequest is the body of POST /v1/providers/register.
type RegisterRequest struct {
	// Public URL clients reach the inference server on.
	// example: https://node-1.example.com:8080
	EndpointURL string `json:"endpoint_url" example:"https://node-1.example.com:8080"`
	// Model name offered, usually an org/name HuggingFace id.
	// example: meta-llama/llama-3.1-8b-instruct
	Model string `json:"model" example:"meta-llama/llama-3.1-8b-instruct"`
	// Maximum concurrent requests accepted.
	// example: 1
	MaxConcurrent int `json:"max_concurrent" example:"1"`
	// Context length offered to clients.
	// example: 8192
	ContextLengthOffered int `json:"context_length_offered" example:"8192"`
	// Price per million input tokens.
	// example: 100
	InputPricePerMillion int `json:"input_price_per_million" example:"100"`
	// Price per million output tokens.
	// example: 200
	OutputPricePerMillion int `json:"output_price_per_million" example:"200"`
	// SHA-256 of the model file when verified against its upstream repository.
	ModelSHA256 string `json:"model_sha256,omitempty"`
}

// RegisterResponse is returned by POST /v1/providers/register.
type RegisterResponse struct {
	// Provider instance id, used for deregistration.
	// example: prov_01HZX
	ID string `json:"id" example:"prov_01HZX"`
	// Registration status.
	// example: active
	Status string `json:"status" example:"active"`
}

// PresencePayload is the body of POST /v1/agents/presence. Optional fields
// are sent as JSON null when unset.
type PresencePayload struct {
	AgentUID           string  `json:"agent_uid"`
	DeviceName         string  `json:"device_name"`
	Platform           string  `json:"platform"`
	Arch               string  `json:"arch"`
	AgentVersion       string  `json:"agent_version"`
	Status             string  `json:"status" example:"ready"`
	CurrentModel       *string `json:"current_model"`
	LoadingProgressPct *int    `json:"loading_progress_pct"`
	ActiveRequests     int     `json:"active_requests"`
	ErrorCode          *string `json:"error_code"`
	ErrorMessage       *string `json:"error_message"`
}

// StatusResponse is served by the local status endpoint GET /status.
type StatusResponse struct {
	Presence      PresencePayload `json:"presence"`
	InstanceID    string          `json:"instance_id,omitempty"`
	EndpointURL   string          `json:"endpoint_url"`
	ModelPath     string          `json:"model_path"`
	ModelSHA256   string          `json:"model_sha256,omitempty"`
	LlamaRunning  bool            `json:"llama_running"`
	UptimeSeconds int64           `json:"uptime_seconds"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: not ready
	Error string `json:"error" example:"not ready"`
	// HTTP status code.
	// example: 503
	Code int `json:"code" example:"503"`
}

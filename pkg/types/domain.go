package types

// LocalModel is a model file discovered on disk.
type LocalModel struct {
	// File name without directory.
	// example: Llama-3.1-8B-Instruct-Q4_K_M.gguf
	Name string `json:"name" example:"Llama-3.1-8B-Instruct-Q4_K_M.gguf"`
	// Absolute path to the model file on disk.
	// example: /home/user/.vram-supply/models/Llama-3.1-8B-Instruct-Q4_K_M.gguf
	Path string `json:"path"`
	// Size in bytes.
	SizeBytes int64 `json:"size_bytes"`
}

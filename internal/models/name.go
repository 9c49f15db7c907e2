package models

import (
	"path/filepath"
	"strings"
)

// NormalizeName derives a HuggingFace-style model id from a GGUF path:
// quantisation suffixes are stripped and well-known families get their org.
//
//	Llama-3.1-8B-Instruct-Q4_K_M.gguf -> meta-llama/llama-3.1-8b-instruct
func NormalizeName(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if stem == "" || stem == "." {
		stem = "unknown"
	}
	stripped := stripQuantSuffix(stem)
	if id, ok := hfRepoFor(stripped); ok {
		return id
	}
	return stripped
}

func stripQuantSuffix(name string) string {
	for {
		trimmed := false
		for _, sep := range []string{".", "-"} {
			i := strings.LastIndex(name, sep)
			if i < 0 {
				continue
			}
			if isQuantTag(strings.ToUpper(name[i+1:])) {
				name = name[:i]
				trimmed = true
				break
			}
		}
		if !trimmed {
			return name
		}
	}
}

func isQuantTag(tag string) bool {
	if strings.HasPrefix(tag, "Q") || strings.HasPrefix(tag, "IQ") {
		return len(tag) >= 3
	}
	switch tag {
	case "F16", "F32", "BF16":
		return true
	}
	return false
}

// familyOrgs is ordered so longer prefixes win.
var familyOrgs = []struct{ prefix, org string }{
	{"llama-3.1", "meta-llama"},
	{"llama-3.2", "meta-llama"},
	{"llama-3.3", "meta-llama"},
	{"llama-3", "meta-llama"},
	{"llama-2", "meta-llama"},
	{"mistral", "mistralai"},
	{"mixtral", "mistralai"},
	{"codestral", "mistralai"},
	{"qwen2.5", "qwen"},
	{"qwen2", "qwen"},
	{"gemma-2", "google"},
	{"gemma", "google"},
	{"phi-3", "microsoft"},
	{"phi-4", "microsoft"},
	{"deepseek-r1", "deepseek-ai"},
	{"deepseek-v3", "deepseek-ai"},
	{"deepseek-v2", "deepseek-ai"},
}

func hfRepoFor(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, f := range familyOrgs {
		if strings.HasPrefix(lower, f.prefix) {
			return f.org + "/" + lower, true
		}
	}
	return "", false
}

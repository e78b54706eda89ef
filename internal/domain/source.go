package domain

// SourceInfo describes one registered ingest source.
type SourceInfo struct {
	ID      string `json:"id"`
	Type    string `json:"type"` // "file-tailer"
	Name    string `json:"name"`
	Path    string `json:"path"`
	Running bool   `json:"running"`
}

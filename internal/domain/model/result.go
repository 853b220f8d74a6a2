package model

// BatchResult is the transient summary returned by the batch pipeline.
// Its fields are copied onto the BatchJob; it is never persisted directly.
type BatchResult struct {
	Succeeded  bool
	Processed  int
	Failed     int
	OutputPath string
	OutputSize int64
	ItemErrors []ItemError
}

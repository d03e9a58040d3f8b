package workflow

import "context"

// TextGenerator turns a prompt into prose. Implemented by utils.RestTextGenerator.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Archiver stores immutable blobs (finalized snapshots, signature images) and returns their URL.
// Implemented by utils.GCSArchiver.
type Archiver interface {
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

package rag

import "errors"

// Error taxonomy shared by every stage of the pipeline. Callers match with
// errors.Is; producers wrap with fmt.Errorf("pkg: ...: %w", ErrX).
var (
	// ErrIngestion marks an unreadable corpus, an empty corpus, or invalid
	// chunking parameters. Fatal at startup.
	ErrIngestion = errors.New("ingestion error")

	// ErrEmbedding marks an empty or over-long input, or a failing
	// embedding backend.
	ErrEmbedding = errors.New("embedding error")

	// ErrIndexBuild marks vectors whose dimension differs from the index.
	ErrIndexBuild = errors.New("index build error")

	// ErrIndexLoad marks a corrupt persisted index or one built with a
	// different embedding dimension.
	ErrIndexLoad = errors.New("index load error")

	// ErrRetrieval marks a failure while embedding the query or searching.
	ErrRetrieval = errors.New("retrieval error")

	// ErrGeneration marks a backend failure, timeout, or empty/truncated
	// model output.
	ErrGeneration = errors.New("generation error")
)

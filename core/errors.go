package core

import "errors"

// Error kinds propagated as typed values. Callers match with errors.Is;
// the HTTP layer maps each kind to a status code.
var (
	// ErrConfigInvalid aborts startup.
	ErrConfigInvalid = errors.New("config_invalid")

	// ErrAuthMissing and ErrAuthInvalid deny a request at entry.
	ErrAuthMissing = errors.New("auth_missing")
	ErrAuthInvalid = errors.New("auth_invalid")

	// ErrUnknownUser, ErrUnknownSession and ErrInvalidRole deny a chat
	// request in the orchestrator.
	ErrUnknownUser    = errors.New("unknown_user")
	ErrUnknownSession = errors.New("unknown_session")
	ErrInvalidRole    = errors.New("invalid_role")

	// ErrLLMTimeout and ErrLLMUnavailable surface on the reply path;
	// on the extraction path they are swallowed and logged.
	ErrLLMTimeout     = errors.New("llm_timeout")
	ErrLLMUnavailable = errors.New("llm_unavailable")

	// ErrMalformedOutput marks an extraction response that failed the
	// structured-output contract. Never surfaced to the chat caller.
	ErrMalformedOutput = errors.New("llm_malformed_output")

	// ErrEmbeddingFailed marks an embedding provider failure after
	// bounded retries.
	ErrEmbeddingFailed = errors.New("embedding_failed")

	// ErrStoreUnavailable marks a vector store failure.
	ErrStoreUnavailable = errors.New("store_unavailable")

	// ErrDimensionMismatch refuses startup when the configured embedder
	// does not match the dimensionality of an existing partition.
	ErrDimensionMismatch = errors.New("dimension_mismatch")
)

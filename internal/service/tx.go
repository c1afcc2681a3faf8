package service

import "context"

// TxRepositories provides transaction-bound repositories. Query completion
// persists the query row, its citations, conversation context, and chunk
// usage counters atomically.
type TxRepositories interface {
	Queries() QueryRepositoryInterface
	Citations() CitationRepositoryInterface
	Conversations() ConversationRepositoryInterface
	Chunks() ChunkUsageRepositoryInterface
}

// TxRunner executes a function within a transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(repos TxRepositories) error) error
}

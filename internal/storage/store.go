// Package storage defines the durable store contract and picks the storage
// tier the process runs on.
package storage

import (
	"context"

	"pubranker/internal/domain"
)

// Store persists the logical schema. Implementations must be safe for
// concurrent use; the gateway is the only writer.
type Store interface {
	// Load returns every persisted record.
	Load(ctx context.Context) (domain.Snapshot, error)
	// PutQuiz upserts a quiz together with its rounds, replacing rounds
	// that are no longer listed.
	PutQuiz(ctx context.Context, quiz domain.Quiz, rounds []domain.Round) error
	// DeleteQuiz removes a quiz and its rounds. Missing ids are not an error.
	DeleteQuiz(ctx context.Context, quizID string) error
	// PutTeam upserts a team with its round scores and confirmations.
	PutTeam(ctx context.Context, team domain.Team) error
	// DeleteTeam removes a team. Missing ids are not an error.
	DeleteTeam(ctx context.Context, teamID string) error
	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// ChangeFeed is the replication collaborator of the remote tier.
type ChangeFeed interface {
	// Events delivers inbound change signals until the feed is closed.
	Events() <-chan domain.ChangeEvent
	// Publish announces that local changes were exported to the remote tier.
	Publish(ctx context.Context, quizIDs ...string) error
	// Ping reports whether the replication channel is reachable.
	Ping(ctx context.Context) error
	Close() error
}

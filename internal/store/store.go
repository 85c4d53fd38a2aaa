// Package store defines the persistence boundary. Message history is
// deliberately in-memory only; the store keeps channel bans so they survive
// restarts.
package store

import (
	"context"
	"time"
)

// Ban records one banned nickname on one channel.
type Ban struct {
	Channel   string
	Nickname  string
	BannedBy  string
	Reason    string
	CreatedAt time.Time
}

// Store persists channel bans.
type Store interface {
	SaveBan(ctx context.Context, ban Ban) error
	ListBans(ctx context.Context) ([]Ban, error)
	Close() error
}

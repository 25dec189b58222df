// Package chatsync keeps a client's view of one chat in step with the
// document store: it finds or creates the chat for a participant set and
// maintains the live, deduplicated message list and read receipts.
package chatsync

import (
	"context"
	"errors"

	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
)

// ChatStore is the part of the chats collection the resolver needs.
type ChatStore interface {
	FindByKey(ctx context.Context, key []string) (models.Chat, error)
	CreateChat(ctx context.Context, key []string, users []models.User) (models.Chat, error)
}

// UserDirectory loads profile snapshots.
type UserDirectory interface {
	GetUsers(ctx context.Context, userIDs []string) ([]models.User, error)
}

// Resolver finds or creates the single chat of a participant set.
type Resolver struct {
	chats ChatStore
	users UserDirectory
}

// NewResolver constructs a Resolver.
func NewResolver(chats ChatStore, users UserDirectory) *Resolver {
	return &Resolver{chats: chats, users: users}
}

// Resolve returns the chat whose canonical key equals the sorted participant
// set, creating it when none exists. Participant snapshots are always read
// fresh. Two concurrent first calls for the same set may both create a chat;
// later lookups then return the oldest.
func (r *Resolver) Resolve(ctx context.Context, participantIDs []string) (models.Chat, error) {
	key := canonicalKey(participantIDs)
	if len(key) == 0 {
		return models.Chat{}, ErrEmptyParticipants
	}

	chat, err := r.chats.FindByKey(ctx, key)
	switch {
	case err == nil:
		users, err := r.users.GetUsers(ctx, chat.UserIDs)
		if err != nil {
			return models.Chat{}, err
		}
		chat.Users = snapshots(users)
		return chat, nil
	case !errors.Is(err, repositories.ErrChatNotFound):
		return models.Chat{}, err
	}

	users, err := r.users.GetUsers(ctx, key)
	if err != nil {
		return models.Chat{}, err
	}
	return r.chats.CreateChat(ctx, key, snapshots(users))
}

// canonicalKey drops blanks and duplicates and sorts ascending.
func canonicalKey(participantIDs []string) []string {
	seen := make(map[string]struct{}, len(participantIDs))
	ids := make([]string, 0, len(participantIDs))
	for _, id := range participantIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return models.ChatKey(ids)
}

func snapshots(users []models.User) []models.User {
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		out = append(out, u.Snapshot())
	}
	return out
}

// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package events

import (
	"time"

	"github.com/goccy/go-json"
)

// ThreadCreatedPayload is emitted when a thread is posted.
type ThreadCreatedPayload struct {
	ID           int64     `json:"id" validate:"required,gt=0"`
	CommunityID  string    `json:"community_id" validate:"required,max=255"`
	AuthorUserID int64     `json:"author_user_id" validate:"required,gt=0"`
	Address      string    `json:"address,omitempty" validate:"omitempty,hexaddr"`
	Title        string    `json:"title" validate:"required,max=1024"`
	Kind         string    `json:"kind" validate:"required,oneof=discussion link"`
	CreatedAt    time.Time `json:"created_at" validate:"required"`
}

// CommentCreatedPayload is emitted when a comment is posted on a thread.
type CommentCreatedPayload struct {
	ID             int64     `json:"id" validate:"required,gt=0"`
	ThreadID       int64     `json:"thread_id" validate:"required,gt=0"`
	CommunityID    string    `json:"community_id" validate:"required,max=255"`
	AuthorUserID   int64     `json:"author_user_id" validate:"required,gt=0"`
	Body           string    `json:"body" validate:"required"`
	UsersMentioned []int64   `json:"users_mentioned,omitempty" validate:"omitempty,dive,gt=0"`
	CreatedAt      time.Time `json:"created_at" validate:"required"`
}

// ThreadUpvotedPayload is emitted when a reaction is added to a thread.
type ThreadUpvotedPayload struct {
	ReactionID  int64     `json:"reaction_id" validate:"required,gt=0"`
	ThreadID    int64     `json:"thread_id" validate:"required,gt=0"`
	CommunityID string    `json:"community_id" validate:"required,max=255"`
	UserID      int64     `json:"user_id" validate:"required,gt=0"`
	Reaction    string    `json:"reaction" validate:"required,oneof=like"`
	CreatedAt   time.Time `json:"created_at" validate:"required"`
}

// CommentUpvotedPayload is emitted when a reaction is added to a comment.
type CommentUpvotedPayload struct {
	ReactionID  int64     `json:"reaction_id" validate:"required,gt=0"`
	CommentID   int64     `json:"comment_id" validate:"required,gt=0"`
	CommunityID string    `json:"community_id" validate:"required,max=255"`
	UserID      int64     `json:"user_id" validate:"required,gt=0"`
	Reaction    string    `json:"reaction" validate:"required,oneof=like"`
	CreatedAt   time.Time `json:"created_at" validate:"required"`
}

// DiscordUser identifies the author of a Discord message.
type DiscordUser struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username,omitempty"`
}

// DiscordMessageCreatedPayload is emitted by the Discord bot bridge.
type DiscordMessageCreatedPayload struct {
	MessageID       string       `json:"message_id" validate:"required"`
	ChannelID       string       `json:"channel_id,omitempty"`
	ParentChannelID string       `json:"parent_channel_id,omitempty"`
	GuildID         string       `json:"guild_id,omitempty"`
	User            *DiscordUser `json:"user,omitempty"`
	Title           string       `json:"title,omitempty"`
	Content         string       `json:"content,omitempty"`
	ImageURLs       []string     `json:"image_urls,omitempty" validate:"omitempty,dive,url"`
	Action          string       `json:"action" validate:"required,oneof=thread-create thread-delete thread-title-update thread-body-update comment-create comment-update comment-delete"`
}

// ChainEventSource locates a decoded log on chain.
type ChainEventSource struct {
	ChainID         int64  `json:"chain_id" validate:"required,gt=0"`
	ContractAddress string `json:"contract_address" validate:"required,hexaddr"`
	EventSignature  string `json:"event_signature" validate:"required,startswith=0x,len=66"`
}

// ChainEventCreatedPayload carries one decoded EVM log.
type ChainEventCreatedPayload struct {
	EventSource     ChainEventSource `json:"event_source" validate:"required"`
	BlockNumber     uint64           `json:"block_number" validate:"required"`
	TransactionHash string           `json:"transaction_hash" validate:"required,startswith=0x,len=66"`
	LogIndex        uint             `json:"log_index"`
	Args            json.RawMessage  `json:"args,omitempty"`
}

// CommunityIndexerTimerTickedPayload drives one indexer tick.
type CommunityIndexerTimerTickedPayload struct {
	TickedAt time.Time `json:"ticked_at" validate:"required"`
}

// ClankerTokenFoundPayload is emitted once per token discovered by the
// clanker indexer.
type ClankerTokenFoundPayload struct {
	ID              int64     `json:"id" validate:"required,gt=0"`
	Name            string    `json:"name" validate:"required,max=255"`
	Symbol          string    `json:"symbol" validate:"required,max=64"`
	ContractAddress string    `json:"contract_address" validate:"required,hexaddr"`
	ChainID         int64     `json:"chain_id" validate:"required,gt=0"`
	ImageURL        string    `json:"img_url,omitempty" validate:"omitempty,url"`
	RequestorFID    int64     `json:"requestor_fid,omitempty"`
	CreatedAt       time.Time `json:"created_at" validate:"required"`
}

// UserNotificationPreferencesUpdatedPayload carries the complete desired
// notification preferences for one user.
type UserNotificationPreferencesUpdatedPayload struct {
	UserID                    int64 `json:"user_id" validate:"required,gt=0"`
	EmailNotificationsEnabled bool  `json:"email_notifications_enabled"`
	RecapEmailEnabled         bool  `json:"recap_email_enabled"`
	DigestEmailEnabled        bool  `json:"digest_email_enabled"`
}

// ThreadViewedPayload is emitted for every thread page view.
type ThreadViewedPayload struct {
	ThreadID int64 `json:"thread_id" validate:"required,gt=0"`
	UserID   int64 `json:"user_id,omitempty" validate:"omitempty,gt=0"`
}

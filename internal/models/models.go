// Package models holds the value types shared across the matchmaking
// core: player identity, game mode configuration, and the client/server
// error codes enumerated in the protocol.
package models

import "time"

// PlayerID is an externally supplied 128-bit identifier. The core never
// mints one; it is accepted as-is from the authenticated connection.
type PlayerID string

// GameMode is a named lane with a fixed required-player count. Players
// in different modes never match against each other.
type GameMode struct {
	ID              string `json:"id"`
	RequiredPlayers int    `json:"required_players"`
	UseMMRMatching  bool   `json:"use_mmr_matching"`
}

// QueueMetadata is the auxiliary payload attached to a queue entry: the
// originating pod (injected server-side) plus whatever opaque blob the
// client sent.
type QueueMetadata struct {
	PodID     string                 `json:"pod_id"`
	Client    map[string]interface{} `json:"client,omitempty"`
	EnqueueAt time.Time              `json:"enqueued_at"`
}

// ErrorCode enumerates the codes carried by the server->client error
// envelope (§6 of the specification).
type ErrorCode string

const (
	ErrInvalidGameMode          ErrorCode = "InvalidGameMode"
	ErrAlreadyInQueue           ErrorCode = "AlreadyInQueue"
	ErrNotInQueue               ErrorCode = "NotInQueue"
	ErrInvalidMessageFormat     ErrorCode = "InvalidMessageFormat"
	ErrWrongSessionID           ErrorCode = "WrongSessionId"
	ErrTemporaryAllocationError ErrorCode = "TemporaryAllocationError"
	ErrDedicatedServerTimeout   ErrorCode = "DedicatedServerTimeout"
	ErrDedicatedServerErrorResp ErrorCode = "DedicatedServerErrorResponse"
	ErrMaxRetriesExceeded       ErrorCode = "MaxRetriesExceeded"
	ErrMatchmakingTimeout       ErrorCode = "MatchmakingTimeout"
	ErrPlayerTemporarilyBlocked ErrorCode = "PlayerTemporarilyBlocked"
	ErrRateLimitExceeded        ErrorCode = "RateLimitExceeded"
	ErrInvalidMetadata          ErrorCode = "InvalidMetadata"
	ErrInternalError            ErrorCode = "InternalError"
)

// ViolationKind enumerates the categorized protocol-violation counters
// reported to the blacklist oracle.
type ViolationKind string

const (
	ViolationUnknownType    ViolationKind = "UnknownType"
	ViolationMissingField   ViolationKind = "MissingField"
	ViolationDuplicated     ViolationKind = "Duplicated"
	ViolationWrongSessionID ViolationKind = "WrongSessionId"
)

package store

import (
	"encoding/json"
	"errors"
	"time"
)

// OutboxStatus is the lifecycle state of an outbox row (§4.1 of the runtime spec).
type OutboxStatus string

const (
	OutboxReady    OutboxStatus = "ready"
	OutboxInFlight OutboxStatus = "in_flight"
	OutboxDone     OutboxStatus = "done"
	OutboxFailed   OutboxStatus = "failed"
	OutboxDead     OutboxStatus = "dead"
)

// InboxStatus is the lifecycle state of an inbox row (§4.2).
type InboxStatus string

const (
	InboxSeen     InboxStatus = "seen"
	InboxInFlight InboxStatus = "in_flight"
	InboxDone     InboxStatus = "done"
	InboxDead     InboxStatus = "dead"
)

// JoinWaitTopic is the well-known topic name for a fan-in parent row.
const JoinWaitTopic = "join.wait"

var (
	ErrNotOwnedByCaller      = errors.New("row is not owned by the calling owner token")
	ErrOutboxNotFound        = errors.New("outbox row not found")
	ErrInboxNotFound         = errors.New("inbox row not found")
	ErrUnknownKey            = errors.New("no store registered for key")
	ErrInvalidKey            = errors.New("key must not be null or empty")
	ErrJoinAlreadyComplete   = errors.New("join has already completed; revival of a terminated child is forbidden")
	ErrLeaseNotHeld          = errors.New("lease is not held by the calling owner")
	ErrLeaseFencingStale     = errors.New("fencing token is stale")
	ErrStartupPrecondition   = errors.New("startup precondition violated")
	ErrControlPlaneUnreachable = errors.New("control plane is unreachable")
)

// OutboxRow mirrors the Outbox row described in §3 of the runtime spec.
type OutboxRow struct {
	ID              string
	Topic           string
	Payload         []byte
	Status          OutboxStatus
	CreatedAt       time.Time
	DueTimeUtc      *time.Time
	ProcessedAt     *time.Time
	IsProcessed     bool
	RetryCount      int
	LastError       string
	ProcessedBy     string
	LeaseOwner      string
	LeaseExpiresUtc *time.Time
	JoinID          *string
	TenantID        string
	Namespace       string
}

// InboxRow mirrors the Inbox row described in §3.
type InboxRow struct {
	MessageID       string
	Source          string
	Topic           string
	Payload         []byte
	Status          InboxStatus
	FirstSeenUtc    time.Time
	LastSeenUtc     time.Time
	ProcessedUtc    *time.Time
	Attempts        int
	LastError       string
	LeaseOwner      string
	LeaseExpiresUtc *time.Time
	VisibleAfterUtc *time.Time
	JoinID          *string
	TenantID        string
	Namespace       string
}

// JoinPayload is the typed payload carried by a parent join.wait outbox row.
type JoinPayload struct {
	JoinID               string          `json:"join_id"`
	FailIfAnyStepFailed  bool            `json:"fail_if_any_step_failed"`
	OnCompleteTopic      string          `json:"on_complete_topic,omitempty"`
	OnCompletePayload    json.RawMessage `json:"on_complete_payload,omitempty"`
	OnFailTopic          string          `json:"on_fail_topic,omitempty"`
	OnFailPayload        json.RawMessage `json:"on_fail_payload,omitempty"`
}

// JoinState tracks the per-JoinId pending counter alongside the parent row.
type JoinState struct {
	JoinID    string
	Pending   int
	AnyFailed bool
	Completed bool
}

// LeaseRow mirrors the Lease row described in §3: (Name, Owner, ExpiresUtc, Fencing).
type LeaseRow struct {
	Name       string
	Owner      string
	ExpiresUtc time.Time
	Fencing    int64
}

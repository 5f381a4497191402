package model

import "time"

// ExecutionStatus is the state of an idempotent operation.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Execution guards one idempotent operation keyed by
// (tenant, operation type, idempotency key).
type Execution struct {
	ID                 string          `json:"id"`
	TenantID           string          `json:"tenant_id"`
	CampaignID         string          `json:"campaign_id"`
	OperationType      string          `json:"operation_type"`
	IdempotencyKey     string          `json:"idempotency_key"`
	InputHash          string          `json:"input_hash"`
	VersionFingerprint string          `json:"version_fingerprint"`
	Status             ExecutionStatus `json:"status"`
	OutputHash         string          `json:"output_hash,omitempty"`
	OutputPayload      string          `json:"output_payload,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

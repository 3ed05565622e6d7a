package models

import "time"

type JobKind string

const (
	JobUpload JobKind = "upload"
	JobRepair JobKind = "repair"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobError      JobStatus = "error"
)

// MediaJob is a durable unit of background media work for one message.
type MediaJob struct {
	ID        string
	MessageID string
	MailboxID string
	Kind      JobKind
	Status    JobStatus
	Attempts  int
	LastError string
	Result    *RepairStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RepairState is what clients see when polling a repair.
type RepairState string

const (
	RepairIdle       RepairState = "idle"
	RepairProcessing RepairState = "processing"
	RepairDone       RepairState = "done"
	RepairError      RepairState = "error"
)

// RepairStatus is the payload of the repair poll endpoint.
type RepairStatus struct {
	Status           RepairState     `json:"status"`
	ProcessedContent string          `json:"processedContent,omitempty"`
	UploadedAssets   []UploadedAsset `json:"uploadedAssets,omitempty"`
	Error            string          `json:"error,omitempty"`
}

package domain

import "time"

// TemplateStatus is the availability of a contract template.
type TemplateStatus string

const (
	TemplateActive   TemplateStatus = "active"
	TemplateArchived TemplateStatus = "archived"
)

// ContractTemplate is a contract_templates record.
type ContractTemplate struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Description      *string        `json:"description"`
	FileName         string         `json:"file_name"`
	StoragePath      string         `json:"storage_path"`
	Status           TemplateStatus `json:"status"`
	UploadedByUserID string         `json:"uploaded_by_user_id"`
	CreatedAt        time.Time      `json:"created_at"`

	// FileURL is resolved from StoragePath and never persisted.
	FileURL string `json:"file_url,omitempty"`
}

// TemplateUpload is the admin payload for a new template.
type TemplateUpload struct {
	Name        string
	Description *string
	File        Attachment
}

// SignedContractStatus is the only status a signed contract takes.
const SignedContractStatus = "signed"

// SignedContract is a signed_contracts record.
type SignedContract struct {
	ID             string    `json:"id"`
	ApplicationID  string    `json:"application_id"`
	UserID         string    `json:"user_id"`
	SignatureURL   string    `json:"signature_url"`
	ContractNumber string    `json:"contract_number"`
	SignedAt       time.Time `json:"signed_at"`
	Status         string    `json:"status"`
}

// ============================================================
// Finalization saga
// ============================================================

// SagaStep names one step of contract finalization.
type SagaStep string

const (
	StepAuthorize        SagaStep = "authorize"
	StepCheckDuplicate   SagaStep = "check_duplicate"
	StepCheckApproved    SagaStep = "check_approved"
	StepResolveTemplate  SagaStep = "resolve_template"
	StepUploadSignature  SagaStep = "upload_signature"
	StepNumberContract   SagaStep = "number_contract"
	StepInsertContract   SagaStep = "insert_contract"
	StepMarkContracted   SagaStep = "mark_contracted"
	StepDiscardSignature SagaStep = "discard_signature"
)

// SagaRecord is one completed step with its completion time.
type SagaRecord struct {
	Step SagaStep  `json:"step"`
	At   time.Time `json:"at"`
}

// ReconcileOutcome classifies one signed contract during reconciliation.
type ReconcileOutcome string

const (
	ReconcileConsistent ReconcileOutcome = "consistent"
	ReconcileRepaired   ReconcileOutcome = "repaired"
	ReconcileFlagged    ReconcileOutcome = "flagged"
	ReconcileFailed     ReconcileOutcome = "failed"
)

// ReconcileItem describes a contract that was not already consistent.
type ReconcileItem struct {
	SignedContractID string            `json:"signed_contract_id"`
	ApplicationID    string            `json:"application_id"`
	Status           ApplicationStatus `json:"application_status,omitempty"`
	Outcome          ReconcileOutcome  `json:"outcome"`
	Reason           string            `json:"reason,omitempty"`
}

// ReconcileReport summarizes one reconciliation run.
type ReconcileReport struct {
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Scanned    int             `json:"scanned"`
	Consistent int             `json:"consistent"`
	Repaired   int             `json:"repaired"`
	Flagged    int             `json:"flagged"`
	Failed     int             `json:"failed"`
	Items      []ReconcileItem `json:"items"`
}

package domain

import "time"

// ApplicationStatus is the lifecycle state of a franchise application.
type ApplicationStatus string

const (
	ApplicationSubmitted      ApplicationStatus = "submitted"
	ApplicationUnderReview    ApplicationStatus = "under_review"
	ApplicationAdditionalInfo ApplicationStatus = "additional_info_requested"
	ApplicationApproved       ApplicationStatus = "approved"
	ApplicationRejected       ApplicationStatus = "rejected"
	ApplicationContracted     ApplicationStatus = "contracted"
)

// AllApplicationStatuses lists the six lifecycle states.
var AllApplicationStatuses = []ApplicationStatus{
	ApplicationSubmitted, ApplicationUnderReview, ApplicationAdditionalInfo,
	ApplicationApproved, ApplicationRejected, ApplicationContracted,
}

// ReviewQueueStatuses are the states listed to reviewers by default.
var ReviewQueueStatuses = []ApplicationStatus{
	ApplicationSubmitted, ApplicationUnderReview, ApplicationAdditionalInfo,
}

func (s ApplicationStatus) Valid() bool {
	for _, known := range AllApplicationStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition leaves s.
func (s ApplicationStatus) IsTerminal() bool {
	return s == ApplicationRejected || s == ApplicationContracted
}

// IsOpen reports whether an application in s counts against the
// one-open-application-per-principal rule.
func (s ApplicationStatus) IsOpen() bool {
	return s.Valid() && !s.IsTerminal()
}

// Amendable reports whether the owner may still edit the application.
func (s ApplicationStatus) Amendable() bool {
	return s == ApplicationSubmitted || s == ApplicationAdditionalInfo
}

// Document is a stored supporting attachment.
type Document struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// Application is a franchise_applications record.
type Application struct {
	ID                     string            `json:"id"`
	UserID                 string            `json:"user_id"`
	ContactName            string            `json:"contact_name"`
	ContactPhone           string            `json:"contact_phone"`
	ContactEmail           string            `json:"contact_email"`
	IntendedCity           string            `json:"intended_city"`
	InvestmentAmount       *string           `json:"investment_amount"`
	ExperienceDescription  *string           `json:"experience_description"`
	Documents              []Document        `json:"documents"`
	Status                 ApplicationStatus `json:"status"`
	SubmittedAt            time.Time         `json:"submitted_at"`
	ReviewedAt             *time.Time        `json:"reviewed_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
	ReviewedByUserID       *string           `json:"reviewed_by_user_id"`
	ReviewNotes            *string           `json:"review_notes"`
	HQCommentsForApplicant *string           `json:"hq_comments_for_applicant"`
}

// ApplicationFields are the applicant-supplied fields of an application.
type ApplicationFields struct {
	ContactName           string   `json:"contact_name"`
	ContactPhone          string   `json:"contact_phone"`
	ContactEmail          string   `json:"contact_email"`
	IntendedCity          string   `json:"intended_city"`
	InvestmentAmount      *string  `json:"investment_amount,omitempty"`
	ExperienceDescription *string  `json:"experience_description,omitempty"`
}

// DecisionRequest asks for a reviewer transition.
//
// ExpectedStatus pins the status the reviewer saw. When it is nil the
// service uses the status it reads itself.
type DecisionRequest struct {
	ApplicationID        string             `json:"-"`
	To                   ApplicationStatus  `json:"status"`
	ExpectedStatus       *ApplicationStatus `json:"expected_status,omitempty"`
	ReviewNotes          *string            `json:"review_notes,omitempty"`
	CommentsForApplicant *string            `json:"hq_comments_for_applicant,omitempty"`
}

// Attachment is an uploaded file before it reaches the object store.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Size returns the attachment length in bytes.
func (a Attachment) Size() int64 { return int64(len(a.Data)) }

package domain

import "time"

// Stage identifies one phase of the loan review pipeline.
type Stage string

const (
	StageBorrower     Stage = "borrower"
	StageEscrow       Stage = "escrow"
	StageTitle        Stage = "title"
	StageUnderwriting Stage = "underwriting"
	StagePostFunding  Stage = "postFunding"
)

// Stages lists all pipeline stages in review order.
var Stages = []Stage{StageBorrower, StageEscrow, StageTitle, StageUnderwriting, StagePostFunding}

// ParseStage validates a stage string.
func ParseStage(raw string) (Stage, bool) {
	for _, s := range Stages {
		if string(s) == raw {
			return s, true
		}
	}
	return "", false
}

type DocumentStatus string

const (
	StatusPending  DocumentStatus = "pending"
	StatusApproved DocumentStatus = "approved"
	StatusRejected DocumentStatus = "rejected"
)

// ParseDocumentStatus validates a status string.
func ParseDocumentStatus(raw string) (DocumentStatus, bool) {
	switch DocumentStatus(raw) {
	case StatusPending, StatusApproved, StatusRejected:
		return DocumentStatus(raw), true
	}
	return "", false
}

// Version is one uploaded file instance of a document. Versions are
// append-only and ordered by upload time; the last entry is current.
type Version struct {
	ID         string            `json:"id"`
	FileName   string            `json:"fileName"`
	StorageKey string            `json:"-"`
	SizeBytes  int64             `json:"sizeBytes"`
	MimeType   string            `json:"mimeType"`
	UploadedBy string            `json:"uploadedBy"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	UploadedAt time.Time         `json:"uploadedAt"`
}

// Comment is an append-only reviewer note on a document.
type Comment struct {
	ID       string    `json:"id"`
	AuthorID string    `json:"authorId"`
	Body     string    `json:"body"`
	PostedAt time.Time `json:"postedAt"`
}

// Document is the logical reviewable artifact a category tracks. Status
// always reflects the latest version until a reviewer acts on it.
type Document struct {
	ID        string         `json:"id"`
	LoanID    string         `json:"loanId"`
	Stage     Stage          `json:"stage"`
	Category  string         `json:"category"`
	Name      string         `json:"name"`
	Status    DocumentStatus `json:"status"`
	Versions  []Version      `json:"versions"`
	Comments  []Comment      `json:"comments"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// CurrentVersion returns the latest uploaded version.
func (d Document) CurrentVersion() (Version, bool) {
	if len(d.Versions) == 0 {
		return Version{}, false
	}
	return d.Versions[len(d.Versions)-1], true
}

// Category is a configured document bucket within a stage.
type Category struct {
	ID          string `json:"id" yaml:"id"`
	DisplayName string `json:"displayName" yaml:"displayName"`
	Required    bool   `json:"required" yaml:"required"`
	Stage       Stage  `json:"stage" yaml:"stage"`
}

// CategoryState is the denormalized per-category view consumed by UIs.
type CategoryState struct {
	CategoryID  string `json:"categoryId"`
	DisplayName string `json:"displayName"`
	Required    bool   `json:"required"`
	HasDocument bool   `json:"hasDocument"`
	IsApproved  bool   `json:"isApproved"`
	IsRejected  bool   `json:"isRejected"`
	IsPending   bool   `json:"isPending"`
}

// StageProgress is derived on read, never stored.
type StageProgress struct {
	Stage             Stage           `json:"stage"`
	RequiredTotal     int             `json:"requiredTotal"`
	RequiredSatisfied int             `json:"requiredSatisfied"`
	Percentage        int             `json:"percentage"`
	Categories        []CategoryState `json:"categories"`
}

// LoanProgress carries every stage's progress; aggregation policy is the
// caller's (see Overall).
type LoanProgress struct {
	LoanID string          `json:"loanId"`
	Stages []StageProgress `json:"stages"`
}

// Overall folds stage percentages with optional per-stage weights. Stages
// with zero required categories are not applicable and are skipped, as is
// any stage whose weight is zero. Nil weights mean equal weighting.
func (p LoanProgress) Overall(weights map[Stage]float64) int {
	var sum, weightSum float64
	for _, sp := range p.Stages {
		if sp.RequiredTotal == 0 {
			continue
		}
		w := 1.0
		if weights != nil {
			w = weights[sp.Stage]
		}
		if w <= 0 {
			continue
		}
		sum += w * float64(sp.Percentage)
		weightSum += w
	}
	if weightSum == 0 {
		return 0
	}
	return int(sum/weightSum + 0.5)
}

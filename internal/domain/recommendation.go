package domain

import "time"

// SimilarProduct is one ranked recommendation entry
type SimilarProduct struct {
	ID              int64   `json:"id"`
	Title           string  `json:"title"`
	ProductType     string  `json:"product_type"`
	Tags            Tags    `json:"tags"`
	SimilarityScore float64 `json:"similarity_score"`
	Images          []Image `json:"images"`
}

// Recommendation is the ranked output for one selected product
type Recommendation struct {
	SelectedID int64            `json:"selected_id"`
	Mode       string           `json:"mode"`
	Products   []SimilarProduct `json:"products"`
}

// SimilarityScore holds the per-candidate score components
type SimilarityScore struct {
	ProductID int64
	Text      float64 // 0-1
	Image     float64 // 0-1
	Combined  float64
}

// JobState is the lifecycle state of a background similarity job
type JobState string

const (
	JobPending JobState = "pending"
	JobReady   JobState = "ready"
	JobFailed  JobState = "failed"
)

// Terminal reports whether the state can no longer change
func (s JobState) Terminal() bool {
	return s == JobReady || s == JobFailed
}

// JobRequest carries every input a similarity job needs, by value
type JobRequest struct {
	ProductID  int64  `json:"product_id"`
	SourceURL  string `json:"source_url"`
	SearchTerm string `json:"search_term,omitempty"`
}

// JobHandle is returned on submission. Ref identifies this holder's
// reference on the job and is consumed by a single release.
type JobHandle struct {
	ID  string `json:"job_id"`
	Ref string `json:"ref"`
}

// JobStatus is a point-in-time view of a job
type JobStatus struct {
	ID          string          `json:"job_id"`
	State       JobState        `json:"state"`
	Result      *Recommendation `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
	CompletedAt time.Time       `json:"completed_at,omitzero"`
}

// JobReceipt is the submitter's view of a new job: its status plus the
// reference token needed to release it.
type JobReceipt struct {
	JobStatus
	Ref string `json:"ref"`
}

// ProductSummary is the listing view of a product on a catalog page
type ProductSummary struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	ProductType string  `json:"product_type"`
	Vendor      string  `json:"vendor"`
	Tags        Tags    `json:"tags"`
	Images      []Image `json:"images"`
}

// SimilarSection reports the background job backing a recommendation page
type SimilarSection struct {
	JobID    string           `json:"job_id"`
	State    JobState         `json:"state"`
	Products []SimilarProduct `json:"products"`
	Error    string           `json:"error,omitempty"`
}

// RecommendationQuery holds the request-affecting parameters of a page view
type RecommendationQuery struct {
	ProductID int64 // 0 selects the first product on the page
	Query     string
	Page      int
}

// RecommendationPage is the full response of a page view
type RecommendationPage struct {
	Page       int              `json:"page"`
	NumPages   int              `json:"num_pages"`
	SearchTerm string           `json:"search_term,omitempty"`
	Products   []ProductSummary `json:"products"`
	Selected   ProductSummary   `json:"selected"`
	Similar    SimilarSection   `json:"similar"`
	Source     string           `json:"source"` // "computed" or "cache"
}

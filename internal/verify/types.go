package verify

import "time"

// Presence is the tri-state website existence decision for a business.
type Presence string

// Presence values persisted on business records.
const (
	PresenceConfirmed Presence = "confirmed"
	PresenceAbsent    Presence = "absent"
	PresenceUnknown   Presence = "unknown"
)

// CheckType identifies which collector produced a signal.
type CheckType string

// Supported collector check types.
const (
	CheckDNS    CheckType = "dns"
	CheckHTTP   CheckType = "http"
	CheckWHOIS  CheckType = "whois"
	CheckSearch CheckType = "search"
)

// Outcome is the typed result of a single collector probe. Timeouts, network
// errors and "not found" are distinct outcomes and are never collapsed into
// absence of a signal.
type Outcome string

// Probe outcomes.
const (
	OutcomePositive     Outcome = "positive"
	OutcomeNegative     Outcome = "negative"
	OutcomeInconclusive Outcome = "inconclusive"
	OutcomeError        Outcome = "error"
)

// Usable reports whether the outcome carries evidentiary weight. Errors and
// inconclusive probes are excluded from the scoring denominator.
func (o Outcome) Usable() bool {
	return o == OutcomePositive || o == OutcomeNegative
}

// Signal is one collector's typed outcome for one business.
type Signal struct {
	Check      CheckType
	Outcome    Outcome
	URL        string
	StatusCode int
	Detail     string
	Latency    time.Duration
}

// Business is a candidate entity whose website presence is being decided.
type Business struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Address    string     `json:"address,omitempty"`
	City       string     `json:"city,omitempty"`
	PostalCode string     `json:"postal_code,omitempty"`
	Country    string     `json:"country,omitempty"`
	Industry   string     `json:"industry,omitempty"`
	Source     string     `json:"source,omitempty"`
	SourceID   string     `json:"source_id,omitempty"`
	Presence   Presence   `json:"website_exists"`
	WebsiteURL string     `json:"website_url,omitempty"`
	Confidence float64    `json:"confidence_score"`
	// SignalsUsable and SignalsQueried record the evidence breadth of the
	// last verification and drive the flap-protection dominance rule.
	SignalsUsable  int        `json:"signals_usable"`
	SignalsQueried int        `json:"signals_queried"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastChecked    *time.Time `json:"last_checked,omitempty"`
}

// WebsiteCheck is an immutable audit record of one collector probe. It is
// created once per probe and never updated or deleted.
type WebsiteCheck struct {
	ID         string        `json:"id"`
	BusinessID string        `json:"business_id"`
	Check      CheckType     `json:"check_type"`
	URLChecked string        `json:"url_checked,omitempty"`
	Outcome    Outcome       `json:"outcome"`
	// Contribution is the signed scoring weight the signal carried:
	// +weight for positive, -weight for negative, 0 otherwise.
	Contribution float64       `json:"contribution"`
	StatusCode   int           `json:"status_code,omitempty"`
	Latency      time.Duration `json:"latency"`
	Detail       string        `json:"detail,omitempty"`
	CheckedAt    time.Time     `json:"checked_at"`
}

// Verification is the outcome a Verification Unit applies to a business.
type Verification struct {
	Presence       Presence
	WebsiteURL     string
	Confidence     float64
	SignalsUsable  int
	SignalsQueried int
	CheckedAt      time.Time
}

// JobType distinguishes discovery work from verification work.
type JobType string

// Job types.
const (
	JobTypeCrawl  JobType = "crawl"
	JobTypeVerify JobType = "verify"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// JobScope describes the target of a job. Verify jobs carry an explicit
// business ID snapshot; crawl jobs carry a location/industry target.
type JobScope struct {
	Location    string   `json:"location,omitempty"`
	Industry    string   `json:"industry,omitempty"`
	BusinessIDs []string `json:"business_ids,omitempty"`
}

// Job is one unit of orchestrated work. Its item set is fixed once started;
// businesses discovered mid-run belong to a new job.
type Job struct {
	ID             string     `json:"id"`
	Type           JobType    `json:"job_type"`
	Status         JobStatus  `json:"status"`
	Scope          JobScope   `json:"scope"`
	TotalItems     int        `json:"total_items"`
	ProcessedItems int        `json:"processed_items"`
	FailedItems    int        `json:"failed_items"`
	CanRetry       bool       `json:"can_retry"`
	// RetryOf links a retry job back to the failed job it continues.
	RetryOf    string     `json:"retry_of,omitempty"`
	ErrorText  string     `json:"error_text,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

package store

import "time"

// Interval is the closed set of scrape cadences a target can use.
type Interval string

const (
	Interval15m   Interval = "15m"
	Interval30m   Interval = "30m"
	Interval60m   Interval = "60m"
	IntervalDaily Interval = "daily"
)

// Valid reports whether i is one of the supported cadences.
func (i Interval) Valid() bool {
	switch i {
	case Interval15m, Interval30m, Interval60m, IntervalDaily:
		return true
	}
	return false
}

// Duration converts the cadence to a time.Duration.
func (i Interval) Duration() time.Duration {
	switch i {
	case Interval15m:
		return 15 * time.Minute
	case Interval30m:
		return 30 * time.Minute
	case Interval60m:
		return time.Hour
	case IntervalDaily:
		return 24 * time.Hour
	}
	return time.Hour
}

// AlertPolicy controls which detected diffs become change events.
type AlertPolicy string

const (
	// PolicyEveryChange emits an event for every non-empty diff.
	PolicyEveryChange AlertPolicy = "every-change"
	// PolicyFirstMatchOnly emits only when a key transitions into its
	// alert-relevant value set.
	PolicyFirstMatchOnly AlertPolicy = "first-match-only"
	// PolicyIntent lets the AI collaborator judge each diff against the
	// target description. Unavailable AI fails open to every-change.
	PolicyIntent AlertPolicy = "intent"
)

// Valid reports whether p is a supported policy.
func (p AlertPolicy) Valid() bool {
	return p == PolicyEveryChange || p == PolicyFirstMatchOnly || p == PolicyIntent
}

// Visibility controls who may read a target's events and feed.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// Valid reports whether v is a supported visibility.
func (v Visibility) Valid() bool {
	return v == VisibilityPrivate || v == VisibilityPublic
}

// Target is a monitored page. State snapshots and the extraction config are
// stored as JSON strings; the pipeline owns (de)serialization.
type Target struct {
	ID             string      `json:"id"`
	Owner          string      `json:"owner"`
	URL            string      `json:"url"`
	Description    string      `json:"description"`
	ConfigJSON     string      `json:"config_json"`
	Interval       Interval    `json:"check_interval"`
	AlertPolicy    AlertPolicy `json:"alert_policy"`
	SummaryEnabled bool        `json:"summary_enabled"`
	Active         bool        `json:"active"`
	Visibility     Visibility  `json:"visibility"`
	PublicSlug     string      `json:"public_slug,omitempty"`
	FolderID       *string     `json:"folder_id,omitempty"`
	LastScrapeAt   *int64      `json:"last_scrape_at,omitempty"`
	LastError      string      `json:"last_error"`
	FailCount      int         `json:"fail_count"`
	StateJSON      string      `json:"state_json"`       // "" until first baseline
	AlertStateJSON string      `json:"alert_state_json"` // "" until first alert emit
	CreatedAt      int64       `json:"created_at"`
	UpdatedAt      int64       `json:"updated_at"`
}

// HasBaseline reports whether at least one scrape has produced a snapshot.
func (t *Target) HasBaseline() bool {
	return t.StateJSON != ""
}

// Event is one detected change. Rows are append-only; only the AI summary is
// backfilled after insertion.
type Event struct {
	ID               string `json:"id"`
	TargetID         string `json:"target_id"`
	CreatedAt        int64  `json:"created_at"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	Permalink        string `json:"permalink"`
	Summary          string `json:"summary,omitempty"` // "" = no AI summary
	PriorStateJSON   string `json:"prior_state_json"`
	CurrentStateJSON string `json:"current_state_json"`
	Fingerprint      string `json:"fingerprint"`
}

// InsertOutcome is the result of InsertEvent.
type InsertOutcome int

const (
	// OutcomeInserted means a new event row was written.
	OutcomeInserted InsertOutcome = iota
	// OutcomeDuplicate means an identical diff landed inside the dedup
	// window and no row was written.
	OutcomeDuplicate
)

// ReadMark is per-principal read/star state for one event, created lazily.
type ReadMark struct {
	Principal string `json:"principal"`
	EventID   string `json:"event_id"`
	Read      bool   `json:"read"`
	Starred   bool   `json:"starred"`
	UpdatedAt int64  `json:"updated_at"`
}

// Subscription links a principal to a public target owned by someone else.
type Subscription struct {
	Principal string `json:"principal"`
	TargetID  string `json:"target_id"`
	CreatedAt int64  `json:"created_at"`
}

// Folder is a per-owner grouping node; folders nest via ParentID.
type Folder struct {
	ID        string  `json:"id"`
	Owner     string  `json:"owner"`
	Name      string  `json:"name"`
	ParentID  *string `json:"parent_id,omitempty"`
	CreatedAt int64   `json:"created_at"`
}

// Cursor is a keyset pagination position over (created_at, id) descending.
type Cursor struct {
	CreatedAt int64  `json:"created_at"`
	ID        string `json:"id"`
}

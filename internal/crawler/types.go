package crawler

import (
	"fmt"
	"time"
)

// MaxJobURLLength bounds job_url in runes; the jobs table stores it in a
// VARCHAR(255) column and a cut URL no longer points at the posting.
const MaxJobURLLength = 255

// JobRecord is one scraped posting. Optional fields are nil when the card did
// not carry them.
type JobRecord struct {
	ID          string
	Title       *string
	JobURL      string
	Salary      *string
	Country     *string
	Experience  *string
	JobStatus   *string
	PublishDate *string
	Description *string
	Badges      []string
}

// Locators maps each logical field to the locator expression used to find it.
type Locators struct {
	Card              string `mapstructure:"card"`
	Title             string `mapstructure:"title"`
	Salary            string `mapstructure:"salary"`
	Country           string `mapstructure:"country"`
	Experience        string `mapstructure:"experience"`
	JobStatus         string `mapstructure:"job_status"`
	PublishedDate     string `mapstructure:"published_date"`
	Description       string `mapstructure:"description"`
	Badge             string `mapstructure:"badge"`
	ParentNextControl string `mapstructure:"parent_next_control"`
	NextControl       string `mapstructure:"next_control"`
	CategoryGroups    string `mapstructure:"category_groups"`
	CategoryLink      string `mapstructure:"category_link"`
	Ready             string `mapstructure:"ready"`
}

// DefaultLocators returns the XPath expressions for the djinni.co listing layout.
func DefaultLocators() Locators {
	return Locators{
		Card:              `//div[@class="page-content"]//div[@class="card-body"]`,
		Title:             `.//a[@class="profile"]`,
		Salary:            `//div[@class="page-content"]//h2[contains(text()," $")]`,
		Country:           `.//p/span[1]`,
		Experience:        `.//p/span[3]`,
		JobStatus:         `.//p/span[5]`,
		PublishedDate:     `.//p//span[7]`,
		Description:       `.//div[contains(@class,"text-card")]`,
		Badge:             `.//span[contains(@class,"badge")]`,
		ParentNextControl: `//div[@class="page-content"]//a[@tabindex="-1"]//span[contains(@class,"chevron-right")]`,
		NextControl:       `//div[@class="page-content"]//span[contains(@class,"chevron-right")]`,
		CategoryGroups:    `//b[text()='Розробка']/following-sibling::ul`,
		CategoryLink:      `./li/a`,
		Ready:             `//div[@class="page-content"]`,
	}
}

// Validate reports the first required locator left empty.
func (l Locators) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"card", l.Card},
		{"title", l.Title},
		{"next_control", l.NextControl},
		{"parent_next_control", l.ParentNextControl},
		{"category_groups", l.CategoryGroups},
		{"category_link", l.CategoryLink},
		{"ready", l.Ready},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("locators.%s must be set", r.name)
		}
	}
	return nil
}

// PageState is a state of the per-category pagination machine.
type PageState string

// Pagination states.
const (
	StateLoadingPage          PageState = "loading_page"
	StateHarvestingCards      PageState = "harvesting_cards"
	StateCheckingContinuation PageState = "checking_continuation"
	StateExhausted            PageState = "exhausted"
	StateError                PageState = "error"
)

// ControlKind classifies the forward-navigation control found by the probe.
type ControlKind int

// Continuation probe outcomes.
const (
	ControlAbsent ControlKind = iota
	ControlDisabled
	ControlActive
)

func (k ControlKind) String() string {
	switch k {
	case ControlAbsent:
		return "absent"
	case ControlDisabled:
		return "disabled"
	case ControlActive:
		return "active"
	default:
		return fmt.Sprintf("ControlKind(%d)", int(k))
	}
}

// Continuation is the result of one continuation probe. Control is set only
// for ControlActive.
type Continuation struct {
	Kind    ControlKind
	Control Element
}

// PageStats summarises the traversal of one category.
type PageStats struct {
	PagesLoaded int
	CardsSeen   int
	EndState    PageState
}

// FailurePolicy decides what happens to buffered records when a flush fails.
type FailurePolicy string

// Flush failure policies.
const (
	// FailurePolicyRetain keeps the buffer intact so the next flush retries it.
	FailurePolicyRetain FailurePolicy = "retain"
	// FailurePolicyDrop clears the buffer after any flush attempt.
	FailurePolicyDrop FailurePolicy = "drop"
)

// ParseFailurePolicy converts a config value into a FailurePolicy.
func ParseFailurePolicy(raw string) (FailurePolicy, error) {
	switch FailurePolicy(raw) {
	case FailurePolicyRetain, "":
		return FailurePolicyRetain, nil
	case FailurePolicyDrop:
		return FailurePolicyDrop, nil
	default:
		return "", fmt.Errorf("unknown flush failure policy %q", raw)
	}
}

// RunStats aggregates counters for a whole crawl run.
type RunStats struct {
	StartedAt          time.Time  `json:"started_at"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
	Categories         int        `json:"categories"`
	CategoriesFailed   int        `json:"categories_failed"`
	PagesLoaded        int        `json:"pages_loaded"`
	CardsExtracted     int        `json:"cards_extracted"`
	CardsSkipped       int        `json:"cards_skipped"`
	Flushes            int        `json:"flushes"`
	FlushFailures      int        `json:"flush_failures"`
	RecordsPersisted   int        `json:"records_persisted"`
	RecordsDropped     int        `json:"records_dropped"`
	RecordsUnpersisted int        `json:"records_unpersisted"`
}

package pipeline

import (
	"time"

	"github.com/raaihank/exdfilter/internal/anonymizer"
)

// Variant selects the target language profile of a run.
type Variant string

const (
	// Localized keeps Korean (.ko.csv) exports.
	Localized Variant = "localized"
	// Global keeps Japanese/English exports.
	Global Variant = "global"
)

// EmptyFilePolicy decides what happens to a table left with only header rows.
type EmptyFilePolicy string

const (
	KeepEmpty   EmptyFilePolicy = "keep"
	DeleteEmpty EmptyFilePolicy = "delete"
)

// Config contains pipeline configuration
type Config struct {
	Variant         Variant         `yaml:"variant" mapstructure:"variant"`                     // localized
	Locale          string          `yaml:"locale" mapstructure:"locale"`                       // ko
	EmptyFilePolicy EmptyFilePolicy `yaml:"empty_file_policy" mapstructure:"empty_file_policy"` // keep
	RetryAttempts   int             `yaml:"retry_attempts" mapstructure:"retry_attempts"`       // 3
	RetryBackoff    time.Duration   `yaml:"retry_backoff" mapstructure:"retry_backoff"`         // 100ms
	HeaderKeywords  []string        `yaml:"header_keywords" mapstructure:"header_keywords"`
}

// DefaultConfig returns the settings of the given variant.
func DefaultConfig(variant Variant) Config {
	if variant == Global {
		return Config{
			Variant:         Global,
			Locale:          "ja",
			EmptyFilePolicy: DeleteEmpty,
			RetryAttempts:   3,
			RetryBackoff:    100 * time.Millisecond,
			HeaderKeywords:  []string{"Name", "Description", "Text"},
		}
	}
	return Config{
		Variant:         Localized,
		Locale:          "ko",
		EmptyFilePolicy: KeepEmpty,
		RetryAttempts:   3,
		RetryBackoff:    100 * time.Millisecond,
		HeaderKeywords:  []string{"Name", "Description", "Text", "이름", "설명", "텍스트"},
	}
}

// Stats counts what each pass did over a run.
type Stats struct {
	FilesPruned      int `json:"files_pruned"`
	FilesDeleted     int `json:"files_deleted"`
	FilesRewritten   int `json:"files_rewritten"`
	FilesSkipped     int `json:"files_skipped"`
	FilesLocked      int `json:"files_locked"`
	RowsRemoved      int `json:"rows_removed"`
	RowsCloned       int `json:"rows_cloned"`
	CellsRemapped    int `json:"cells_remapped"`
	RowsAnonymized   int `json:"rows_anonymized"`
	ColumnsRemoved   int `json:"columns_removed"`
	TokensDiscovered int `json:"tokens_discovered"`
	TokensResolved   int `json:"tokens_resolved"`
	TokensUnresolved int `json:"tokens_unresolved"`
	OverridesFilled  int `json:"overrides_filled"`
	FilesRenamed     int `json:"files_renamed"`
	DirsRemoved      int `json:"dirs_removed"`
}

// State is carried from pass to pass within one run.
type State struct {
	RunID string
	Index *anonymizer.Index
	Stats *Stats
}

// NewState creates the state of a fresh run.
func NewState(runID string) *State {
	return &State{
		RunID: runID,
		Index: anonymizer.NewIndex(),
		Stats: &Stats{},
	}
}

// Phase of a pass event.
type Phase string

const (
	PhaseStarted  Phase = "started"
	PhaseFinished Phase = "finished"
	PhaseFailed   Phase = "failed"
)

// Event reports pass progress to an EventSink.
type Event struct {
	RunID     string        `json:"run_id"`
	Pass      string        `json:"pass"`
	Phase     Phase         `json:"phase"`
	Stats     Stats         `json:"stats"`
	Duration  time.Duration `json:"duration,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// EventSink receives pass events. Publish must not block.
type EventSink interface {
	Publish(Event)
}

// ManifestWriter persists the run manifest from the per-file unresolved
// token counts.
type ManifestWriter interface {
	WriteManifest(refs map[string]int) error
}

// PassResult is the outcome of one pass.
type PassResult struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
}

// Summary is the result of a complete run.
type Summary struct {
	RunID      string         `json:"run_id"`
	Variant    Variant        `json:"variant"`
	Root       string         `json:"root"`
	StartedAt  time.Time      `json:"started_at"`
	Duration   time.Duration  `json:"duration"`
	Passes     []PassResult   `json:"passes"`
	Stats      Stats          `json:"stats"`
	References map[string]int `json:"references"`
}

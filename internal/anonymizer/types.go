package anonymizer

// Config contains phrase anonymizer configuration
type Config struct {
	Enabled     bool     `yaml:"enabled" mapstructure:"enabled"`
	Subtree     string   `yaml:"subtree" mapstructure:"subtree"`         // "quest/"
	TextOffset  string   `yaml:"text_offset" mapstructure:"text_offset"` // "1"
	MarkerWord  string   `yaml:"marker_word" mapstructure:"marker_word"` // "말하기"
	Markers     []string `yaml:"markers" mapstructure:"markers"`         // dialogue UI phrases
	Placeholder string   `yaml:"placeholder" mapstructure:"placeholder"` // "…"
}

// DefaultConfig returns the settings used for quest dialogue.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		Subtree:     "quest/",
		TextOffset:  "1",
		MarkerWord:  "말하기",
		Markers:     []string{"선택", "대화", "말하기"},
		Placeholder: "…",
	}
}

// Finding records one scrubbed hint
type Finding struct {
	RowKey  string   `json:"rowKey"`
	Hint    string   `json:"hint"`
	Targets []string `json:"targets"`
}

// Result contains the result of anonymizing one table
type Result struct {
	Modified bool      `json:"modified"`
	Findings []Finding `json:"findings"`
}

package workflow

import "strings"

type Stage string

const (
	StageInitial             Stage = "initial"
	StageBrandingSuggestions Stage = "branding_suggestions"
	StagePostGeneration      Stage = "post_generation"
)

// Session is one of Initial, BrandingSuggestions or PostGeneration. Each
// variant only carries the fields that are valid in its stage.
type Session interface {
	Stage() Stage
	isSession()
}

type Initial struct{}

// BrandingSuggestions holds a backend session and the parsed suggestions.
// Selected is empty until the user picks one.
type BrandingSuggestions struct {
	SessionID      string
	RawSuggestions string
	Suggestions    []string
	Selected       string
}

type PostGeneration struct {
	SessionID          string
	Suggestions        []string
	SelectedSuggestion string
	Caption            string
	ImageRef           string
}

func (Initial) Stage() Stage             { return StageInitial }
func (BrandingSuggestions) Stage() Stage { return StageBrandingSuggestions }
func (PostGeneration) Stage() Stage      { return StagePostGeneration }

func (Initial) isSession()             {}
func (BrandingSuggestions) isSession() {}
func (PostGeneration) isSession()      {}

// Contains reports whether s is one of the parsed suggestions.
func (b BrandingSuggestions) Contains(s string) bool {
	for _, v := range b.Suggestions {
		if v == s {
			return true
		}
	}
	return false
}

// Fields is the flat view of a session. Pointer fields are nil when the
// current stage does not define them.
type Fields struct {
	Stage              Stage    `json:"stage" yaml:"stage"`
	SessionID          *string  `json:"session_id" yaml:"session_id"`
	RawSuggestions     *string  `json:"raw_suggestions" yaml:"raw_suggestions"`
	ParsedSuggestions  []string `json:"parsed_suggestions" yaml:"parsed_suggestions"`
	SelectedSuggestion *string  `json:"selected_suggestion" yaml:"selected_suggestion"`
	Caption            *string  `json:"caption" yaml:"caption"`
	ImageRef           *string  `json:"image_ref" yaml:"image_ref"`
}

func FieldsOf(s Session) Fields {
	switch v := s.(type) {
	case BrandingSuggestions:
		f := Fields{
			Stage:             StageBrandingSuggestions,
			SessionID:         ptr(v.SessionID),
			RawSuggestions:    ptr(v.RawSuggestions),
			ParsedSuggestions: clone(v.Suggestions),
		}
		if v.Selected != "" {
			f.SelectedSuggestion = ptr(v.Selected)
		}
		return f
	case PostGeneration:
		return Fields{
			Stage:              StagePostGeneration,
			SessionID:          ptr(v.SessionID),
			ParsedSuggestions:  clone(v.Suggestions),
			SelectedSuggestion: ptr(v.SelectedSuggestion),
			Caption:            ptr(v.Caption),
			ImageRef:           ptr(v.ImageRef),
		}
	default:
		return Fields{Stage: StageInitial, ParsedSuggestions: []string{}}
	}
}

// ParseSuggestions splits raw into trimmed non-blank lines, keeping order.
func ParseSuggestions(raw string) []string {
	out := []string{}
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func ptr(s string) *string { return &s }

func clone(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

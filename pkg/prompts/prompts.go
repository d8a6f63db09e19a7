// Package prompts models the prompt template consumed by the minutes
// assembler. Template authoring, editing, and persistence are handled
// upstream of this module; this package only carries the data shape and a
// small built-in catalog so the assembler has real bodies to compose with.
package prompts

// Kind distinguishes a built-in preset from a user-authored template.
type Kind string

const (
	KindPreset Kind = "preset"
	KindCustom Kind = "custom"
)

// Category groups templates by the kind of recording they suit.
type Category string

const (
	CategoryGeneral      Category = "general"
	CategoryMeeting      Category = "meeting"
	CategoryInterview    Category = "interview"
	CategoryPresentation Category = "presentation"
	CategoryBrainstorm   Category = "brainstorm"
	CategoryCustom       Category = "custom"
)

// Template is one prompt body plus its metadata. Exactly one Template is
// active for a given assembler run.
type Template struct {
	ID       string
	Kind     Kind
	Category Category
	Body     string
	Tags     []string
}

// Presets is the built-in catalog, one per category, usable as-is or as a
// starting point before any custom authoring layer is wired in front of it.
var Presets = []Template{
	{
		ID:       "preset-general",
		Kind:     KindPreset,
		Category: CategoryGeneral,
		Body:     "Summarize the following recording into structured meeting minutes covering the overall purpose, the points discussed, and any outcomes.",
		Tags:     []string{"general"},
	},
	{
		ID:       "preset-meeting",
		Kind:     KindPreset,
		Category: CategoryMeeting,
		Body:     "Produce meeting minutes from the following recording: identify attendees, summarize each agenda topic, and list concrete decisions and action items with owners and due dates where stated.",
		Tags:     []string{"meeting", "minutes"},
	},
	{
		ID:       "preset-interview",
		Kind:     KindPreset,
		Category: CategoryInterview,
		Body:     "Summarize the following interview, attributing key statements to the interviewer and interviewee, and extract notable quotes and follow-up items.",
		Tags:     []string{"interview"},
	},
	{
		ID:       "preset-presentation",
		Kind:     KindPreset,
		Category: CategoryPresentation,
		Body:     "Summarize the following presentation, outlining its main thesis, supporting points in presentation order, and any audience questions and answers.",
		Tags:     []string{"presentation"},
	},
	{
		ID:       "preset-brainstorm",
		Kind:     KindPreset,
		Category: CategoryBrainstorm,
		Body:     "Summarize the following brainstorming session as a list of proposed ideas grouped by theme, noting which ideas gained support and which were deferred.",
		Tags:     []string{"brainstorm"},
	},
}

// ByCategory returns the first preset matching category, or the general
// preset if none match.
func ByCategory(category Category) Template {
	for _, t := range Presets {
		if t.Category == category {
			return t
		}
	}
	return Presets[0]
}

// Custom builds a Template wrapping a user-supplied body.
func Custom(id, body string, tags []string) Template {
	return Template{ID: id, Kind: KindCustom, Category: CategoryCustom, Body: body, Tags: tags}
}

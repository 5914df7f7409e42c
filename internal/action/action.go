// Package action defines the typed vocabulary of atomic browser operations
// the agent can decide on, together with the construction-time validation
// rules that make a decided action safe to execute.
package action

import (
	"fmt"
	"math"
	"strings"
)

// Kind enumerates every operation the agent can emit. The set is closed:
// construction with anything else fails with InvalidKindError.
type Kind string

const (
	KindClick       Kind = "click"
	KindDoubleClick Kind = "double_click"
	KindRightClick  Kind = "right_click"
	KindDrag        Kind = "drag"
	KindHotkey      Kind = "hotkey"
	KindType        Kind = "type"
	KindScroll      Kind = "scroll"
	KindWait        Kind = "wait"
	KindSwitchTab   Kind = "switch_tab"

	// Control-flow markers. These carry no browser side effect; the loop
	// controller consumes them as state transitions.
	KindFinished Kind = "finished"
	KindCallUser Kind = "call_user"
	KindStart    Kind = "start"
)

// Region is a bounding box (x1, y1, x2, y2) in page coordinates.
type Region [4]float64

// Delta is a (dx, dy) scroll offset in pixels.
type Delta [2]float64

// Field names a parameter slot of an Action, used in validation errors.
type Field string

const (
	FieldText        Field = "text"
	FieldStartRegion Field = "start_region"
	FieldEndRegion   Field = "end_region"
	FieldScrollDelta Field = "scroll_delta"
	FieldKeyName     Field = "key_name"
	FieldTabIndex    Field = "tab_index"
	FieldQuestion    Field = "question"
)

// requiredFields is the single source of truth for per-kind validity.
// Handlers never re-check presence; they may rely on it.
var requiredFields = map[Kind][]Field{
	KindClick:       {FieldStartRegion},
	KindDoubleClick: {FieldStartRegion},
	KindRightClick:  {FieldStartRegion},
	KindDrag:        {FieldStartRegion, FieldEndRegion},
	KindScroll:      {FieldStartRegion, FieldScrollDelta},
	KindType:        {FieldText},
	KindHotkey:      {FieldKeyName},
	KindSwitchTab:   {}, // tab_index optional: absent means "most recently opened tab"
	KindCallUser:    {FieldQuestion},
	KindWait:        {},
	KindFinished:    {},
	KindStart:       {},
}

// InvalidKindError reports a kind outside the closed set.
type InvalidKindError struct {
	Kind Kind
}

func (e *InvalidKindError) Error() string {
	return fmt.Sprintf("action: invalid kind %q", string(e.Kind))
}

// MissingFieldError reports a required field absent at construction.
type MissingFieldError struct {
	Kind  Kind
	Field Field
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("action: kind %q requires field %q", string(e.Kind), string(e.Field))
}

// Params carries the optional payload slots for construction. A nil pointer
// means "absent"; no slot is ever coerced from another.
type Params struct {
	Text        *string
	StartRegion *Region
	EndRegion   *Region
	ScrollDelta *Delta
	KeyName     *string
	TabIndex    *int
	Question    *string
	Answer      *string
}

// Action is one validated, immutable browser operation. Build it with New;
// a zero Action is not valid. Actions are passed by value and consumed
// exactly once per loop iteration.
type Action struct {
	Kind        Kind
	Text        *string
	StartRegion *Region
	EndRegion   *Region
	ScrollDelta *Delta
	KeyName     *string
	TabIndex    *int
	Question    *string
	Answer      *string
}

// New constructs a validated Action. It fails with *InvalidKindError for a
// kind outside the closed set and *MissingFieldError for any absent required
// field per the requiredFields table.
func New(kind Kind, p Params) (Action, error) {
	required, ok := requiredFields[kind]
	if !ok {
		return Action{}, &InvalidKindError{Kind: kind}
	}
	for _, f := range required {
		if !p.has(f) {
			return Action{}, &MissingFieldError{Kind: kind, Field: f}
		}
	}
	return Action{
		Kind:        kind,
		Text:        p.Text,
		StartRegion: p.StartRegion,
		EndRegion:   p.EndRegion,
		ScrollDelta: p.ScrollDelta,
		KeyName:     p.KeyName,
		TabIndex:    p.TabIndex,
		Question:    p.Question,
		Answer:      p.Answer,
	}, nil
}

// Must is a test/seed helper that panics on construction failure. The loop
// controller uses it only for the synthetic start action.
func Must(kind Kind, p Params) Action {
	a, err := New(kind, p)
	if err != nil {
		panic(err)
	}
	return a
}

func (p Params) has(f Field) bool {
	switch f {
	case FieldText:
		return p.Text != nil
	case FieldStartRegion:
		return p.StartRegion != nil
	case FieldEndRegion:
		return p.EndRegion != nil
	case FieldScrollDelta:
		return p.ScrollDelta != nil
	case FieldKeyName:
		return p.KeyName != nil
	case FieldTabIndex:
		return p.TabIndex != nil
	case FieldQuestion:
		return p.Question != nil
	}
	return false
}

// Terminal reports whether the kind ends the step loop.
func (a Action) Terminal() bool {
	return a.Kind == KindFinished || a.Kind == KindCallUser
}

// Marker reports whether the kind is a pure control-flow marker with no
// browser side effect.
func (a Action) Marker() bool {
	return a.Kind == KindFinished || a.Kind == KindCallUser || a.Kind == KindStart
}

// CenterOf computes the midpoint of a bounding box using integer floor
// division, matching the upstream coordinate convention. The floor rule
// introduces a systematic half-pixel bias on odd-width boxes; it is kept
// deliberately so replayed coordinates line up with recorded ones.
func CenterOf(r Region) (x, y float64) {
	return math.Floor((r[0] + r[2]) / 2), math.Floor((r[1] + r[3]) / 2)
}

// ParseTypedText splits the text payload into the content to type and
// whether a submit keypress should follow. A trailing newline is the submit
// sentinel and is stripped from the returned content. Absent or empty text
// yields ("", false).
func (a Action) ParseTypedText() (content string, submitAfter bool) {
	if a.Text == nil || *a.Text == "" {
		return "", false
	}
	if strings.HasSuffix(*a.Text, "\n") {
		return strings.TrimRight(*a.Text, "\n"), true
	}
	return *a.Text, false
}

// String renders a fixed-format, human-readable description used in logs and
// history. It is never used for control decisions.
func (a Action) String() string {
	switch a.Kind {
	case KindClick, KindDoubleClick, KindRightClick:
		return fmt.Sprintf("%s(start_region=%v)", a.Kind, *a.StartRegion)
	case KindDrag:
		return fmt.Sprintf("drag(start_region=%v, end_region=%v)", *a.StartRegion, *a.EndRegion)
	case KindScroll:
		return fmt.Sprintf("scroll(start_region=%v, scroll_delta=%v)", *a.StartRegion, *a.ScrollDelta)
	case KindType:
		return fmt.Sprintf("type(text=%q)", *a.Text)
	case KindHotkey:
		return fmt.Sprintf("hotkey(key_name=%q)", *a.KeyName)
	case KindSwitchTab:
		if a.TabIndex != nil {
			return fmt.Sprintf("switch_tab(tab_index=%d)", *a.TabIndex)
		}
		return "switch_tab(latest)"
	case KindCallUser:
		return fmt.Sprintf("call_user(question=%q)", *a.Question)
	default:
		return fmt.Sprintf("%s()", a.Kind)
	}
}

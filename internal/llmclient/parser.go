package llmclient

import (
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/webpilot/internal/action"
)

// jsonBlockRegex extracts a JSON object from a markdown code fence, since
// models wrap replies in ``` blocks even when told not to.
var jsonBlockRegex = regexp.MustCompile(fmt.Sprintf("(?s)%s(?:json)?\\s*(.*?)\\s*%s", "```", "```"))

// decisionPayload is the wire shape of a model reply.
type decisionPayload struct {
	Thought string        `json:"thought"`
	Action  string        `json:"action"`
	Params  paramsPayload `json:"params"`
}

type paramsPayload struct {
	Text        *string   `json:"text"`
	StartRegion []float64 `json:"start_region"`
	EndRegion   []float64 `json:"end_region"`
	ScrollDelta []float64 `json:"scroll_delta"`
	KeyName     *string   `json:"key_name"`
	TabIndex    *int      `json:"tab_index"`
	Question    *string   `json:"question"`
	Answer      *string   `json:"answer"`
}

// parseDecision extracts the JSON object from a raw model reply and
// validates it into an Action. Every failure path is a parse error; the
// caller decides whether to retry the model.
func parseDecision(raw string) (string, action.Action, error) {
	jsonText := extractJSON(raw)
	if jsonText == "" {
		return "", action.Action{}, fmt.Errorf("no JSON object found in model reply")
	}

	var payload decisionPayload
	if err := json.ConfigCompatibleWithStandardLibrary.Unmarshal([]byte(jsonText), &payload); err != nil {
		return "", action.Action{}, fmt.Errorf("unmarshaling model reply: %w", err)
	}
	if payload.Action == "" {
		return "", action.Action{}, fmt.Errorf("model reply missing \"action\" field")
	}

	params, err := payload.Params.toActionParams()
	if err != nil {
		return "", action.Action{}, err
	}

	act, err := action.New(action.Kind(payload.Action), params)
	if err != nil {
		return "", action.Action{}, fmt.Errorf("model decided an invalid action: %w", err)
	}
	return payload.Thought, act, nil
}

func (p paramsPayload) toActionParams() (action.Params, error) {
	out := action.Params{
		Text:     p.Text,
		KeyName:  p.KeyName,
		TabIndex: p.TabIndex,
		Question: p.Question,
		Answer:   p.Answer,
	}

	var err error
	if out.StartRegion, err = toRegion("start_region", p.StartRegion); err != nil {
		return action.Params{}, err
	}
	if out.EndRegion, err = toRegion("end_region", p.EndRegion); err != nil {
		return action.Params{}, err
	}
	if out.ScrollDelta, err = toDelta("scroll_delta", p.ScrollDelta); err != nil {
		return action.Params{}, err
	}
	return out, nil
}

func toRegion(name string, vals []float64) (*action.Region, error) {
	if vals == nil {
		return nil, nil
	}
	if len(vals) != 4 {
		return nil, fmt.Errorf("%s must have 4 elements, got %d", name, len(vals))
	}
	r := action.Region{vals[0], vals[1], vals[2], vals[3]}
	return &r, nil
}

func toDelta(name string, vals []float64) (*action.Delta, error) {
	if vals == nil {
		return nil, nil
	}
	if len(vals) != 2 {
		return nil, fmt.Errorf("%s must have 2 elements, got %d", name, len(vals))
	}
	d := action.Delta{vals[0], vals[1]}
	return &d, nil
}

// extractJSON prefers a fenced code block, then falls back to the widest
// brace-delimited span, then the raw reply.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if matches := jsonBlockRegex.FindStringSubmatch(raw); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}

	first := strings.Index(raw, "{")
	last := strings.LastIndex(raw, "}")
	if first != -1 && last > first {
		return raw[first : last+1]
	}
	return raw
}

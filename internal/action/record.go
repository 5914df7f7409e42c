package action

import (
	json "github.com/json-iterator/go"
)

// Record is the serialized snapshot of an Action kept in history and session
// logs. Every field is present in the JSON output; absent optionals marshal
// as explicit nulls so a replay tool can tell "not applicable" from "dropped
// by a lossy serializer".
type Record struct {
	Kind        string   `json:"kind"`
	Text        *string  `json:"text"`
	StartRegion *Region  `json:"start_region"`
	EndRegion   *Region  `json:"end_region"`
	ScrollDelta *Delta   `json:"scroll_delta"`
	KeyName     *string  `json:"key_name"`
	TabIndex    *int     `json:"tab_index"`
	Question    *string  `json:"question"`
	Answer      *string  `json:"answer"`
}

// Record returns a detached snapshot of the action. Pointer payloads are
// copied so the snapshot never aliases the live action.
func (a Action) Record() Record {
	return Record{
		Kind:        string(a.Kind),
		Text:        copyPtr(a.Text),
		StartRegion: copyPtr(a.StartRegion),
		EndRegion:   copyPtr(a.EndRegion),
		ScrollDelta: copyPtr(a.ScrollDelta),
		KeyName:     copyPtr(a.KeyName),
		TabIndex:    copyPtr(a.TabIndex),
		Question:    copyPtr(a.Question),
		Answer:      copyPtr(a.Answer),
	}
}

// FromRecord reconstructs a validated Action from a snapshot. It runs the
// same construction checks as New, so a corrupted record is rejected rather
// than replayed.
func FromRecord(r Record) (Action, error) {
	return New(Kind(r.Kind), Params{
		Text:        copyPtr(r.Text),
		StartRegion: copyPtr(r.StartRegion),
		EndRegion:   copyPtr(r.EndRegion),
		ScrollDelta: copyPtr(r.ScrollDelta),
		KeyName:     copyPtr(r.KeyName),
		TabIndex:    copyPtr(r.TabIndex),
		Question:    copyPtr(r.Question),
		Answer:      copyPtr(r.Answer),
	})
}

// MarshalJSONRecord encodes the record with the package's configured codec.
func (r Record) MarshalJSONRecord() ([]byte, error) {
	return json.ConfigCompatibleWithStandardLibrary.Marshal(r)
}

// UnmarshalJSONRecord decodes a record previously written by
// MarshalJSONRecord.
func UnmarshalJSONRecord(data []byte) (Record, error) {
	var r Record
	err := json.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &r)
	return r, err
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

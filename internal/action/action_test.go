package action

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestNew_RequiredFieldsEnforced(t *testing.T) {
	region := Region{0, 0, 10, 10}
	delta := Delta{0, 120}

	testCases := []struct {
		name    string
		kind    Kind
		params  Params
		missing Field // empty means construction must succeed
	}{
		{"click without start_region", KindClick, Params{}, FieldStartRegion},
		{"click with start_region", KindClick, Params{StartRegion: &region}, ""},
		{"double_click without start_region", KindDoubleClick, Params{}, FieldStartRegion},
		{"right_click without start_region", KindRightClick, Params{}, FieldStartRegion},
		{"drag without end_region", KindDrag, Params{StartRegion: &region}, FieldEndRegion},
		{"drag without start_region", KindDrag, Params{EndRegion: &region}, FieldStartRegion},
		{"drag complete", KindDrag, Params{StartRegion: &region, EndRegion: &region}, ""},
		{"scroll without delta", KindScroll, Params{StartRegion: &region}, FieldScrollDelta},
		{"scroll complete", KindScroll, Params{StartRegion: &region, ScrollDelta: &delta}, ""},
		{"type without text", KindType, Params{}, FieldText},
		{"type with text", KindType, Params{Text: strPtr("hi")}, ""},
		{"hotkey without key_name", KindHotkey, Params{}, FieldKeyName},
		{"hotkey with key_name", KindHotkey, Params{KeyName: strPtr("Enter")}, ""},
		{"switch_tab without index uses latest", KindSwitchTab, Params{}, ""},
		{"switch_tab with index", KindSwitchTab, Params{TabIndex: intPtr(1)}, ""},
		{"call_user without question", KindCallUser, Params{}, FieldQuestion},
		{"call_user with question", KindCallUser, Params{Question: strPtr("confirm price?")}, ""},
		{"wait needs nothing", KindWait, Params{}, ""},
		{"finished needs nothing", KindFinished, Params{}, ""},
		{"start needs nothing", KindStart, Params{}, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a, err := New(tc.kind, tc.params)
			if tc.missing == "" {
				require.NoError(t, err)
				assert.Equal(t, tc.kind, a.Kind)
				return
			}
			var missingErr *MissingFieldError
			require.ErrorAs(t, err, &missingErr)
			assert.Equal(t, tc.kind, missingErr.Kind)
			assert.Equal(t, tc.missing, missingErr.Field)
		})
	}
}

func TestNew_RejectsUnknownKind(t *testing.T) {
	_, err := New(Kind("teleport"), Params{})
	var invalidErr *InvalidKindError
	require.ErrorAs(t, err, &invalidErr)
	assert.Equal(t, Kind("teleport"), invalidErr.Kind)
}

func TestNew_NoCrossFieldCoercion(t *testing.T) {
	// A click never inherits key_name or text semantics; optional fields
	// simply ride along untouched.
	region := Region{0, 0, 4, 4}
	a, err := New(KindClick, Params{StartRegion: &region})
	require.NoError(t, err)
	assert.Nil(t, a.KeyName)
	assert.Nil(t, a.Text)
	assert.Nil(t, a.TabIndex)
}

func TestCenterOf(t *testing.T) {
	testCases := []struct {
		region     Region
		wantX      float64
		wantY      float64
	}{
		{Region{0, 0, 10, 10}, 5, 5},
		// Odd-width box: floor((1+2)/2) == 1, the documented floor rule.
		{Region{1, 1, 2, 2}, 1, 1},
		{Region{0, 0, 3, 5}, 1, 2},
		{Region{100, 200, 300, 400}, 200, 300},
	}
	for _, tc := range testCases {
		x, y := CenterOf(tc.region)
		assert.Equal(t, tc.wantX, x, "x of %v", tc.region)
		assert.Equal(t, tc.wantY, y, "y of %v", tc.region)
	}
}

func TestParseTypedText(t *testing.T) {
	testCases := []struct {
		name       string
		text       *string
		want       string
		wantSubmit bool
	}{
		{"trailing newline submits", strPtr("hello\n"), "hello", true},
		{"no newline does not submit", strPtr("hello"), "hello", false},
		{"empty text", strPtr(""), "", false},
		{"absent text", nil, "", false},
		{"multiple trailing newlines stripped", strPtr("go\n\n"), "go", true},
		{"interior newline preserved", strPtr("a\nb"), "a\nb", false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a := Action{Kind: KindType, Text: tc.text}
			content, submit := a.ParseTypedText()
			assert.Equal(t, tc.want, content)
			assert.Equal(t, tc.wantSubmit, submit)
		})
	}
}

func TestRecord_RoundTripAllKinds(t *testing.T) {
	region := Region{1, 2, 3, 4}
	end := Region{5, 6, 7, 8}
	delta := Delta{0, -200}

	actions := []Action{
		Must(KindClick, Params{StartRegion: &region}),
		Must(KindDoubleClick, Params{StartRegion: &region}),
		Must(KindRightClick, Params{StartRegion: &region}),
		Must(KindDrag, Params{StartRegion: &region, EndRegion: &end}),
		Must(KindScroll, Params{StartRegion: &region, ScrollDelta: &delta}),
		Must(KindType, Params{Text: strPtr("query\n")}),
		Must(KindHotkey, Params{KeyName: strPtr("Enter")}),
		Must(KindSwitchTab, Params{TabIndex: intPtr(2)}),
		Must(KindSwitchTab, Params{}),
		Must(KindCallUser, Params{Question: strPtr("ok?"), Answer: strPtr("yes")}),
		Must(KindWait, Params{}),
		Must(KindFinished, Params{}),
		Must(KindStart, Params{}),
	}

	for _, a := range actions {
		t.Run(string(a.Kind), func(t *testing.T) {
			data, err := a.Record().MarshalJSONRecord()
			require.NoError(t, err)

			rec, err := UnmarshalJSONRecord(data)
			require.NoError(t, err)

			back, err := FromRecord(rec)
			require.NoError(t, err)
			if diff := cmp.Diff(a, back); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRecord_AbsentFieldsMarshalAsNull(t *testing.T) {
	data, err := Must(KindWait, Params{}).Record().MarshalJSONRecord()
	require.NoError(t, err)

	s := string(data)
	for _, key := range []string{"text", "start_region", "end_region", "scroll_delta", "key_name", "tab_index", "question", "answer"} {
		assert.Contains(t, s, `"`+key+`":null`, "absent field %q must serialize as an explicit null", key)
	}
}

func TestRecord_SnapshotDoesNotAliasAction(t *testing.T) {
	region := Region{0, 0, 10, 10}
	a := Must(KindClick, Params{StartRegion: &region})
	rec := a.Record()

	// Mutating the original backing region must not leak into the snapshot.
	region[2] = 999
	require.NotNil(t, rec.StartRegion)
	assert.Equal(t, Region{0, 0, 10, 10}, *rec.StartRegion)
}

func TestFromRecord_RejectsCorruptedSnapshot(t *testing.T) {
	rec := Record{Kind: "click"} // start_region lost
	_, err := FromRecord(rec)
	var missingErr *MissingFieldError
	require.True(t, errors.As(err, &missingErr))
	assert.Equal(t, FieldStartRegion, missingErr.Field)
}

func TestString_FixedFormats(t *testing.T) {
	region := Region{0, 0, 10, 10}
	a := Must(KindClick, Params{StartRegion: &region})
	assert.True(t, strings.HasPrefix(a.String(), "click(start_region="))

	assert.Equal(t, `hotkey(key_name="Enter")`, Must(KindHotkey, Params{KeyName: strPtr("Enter")}).String())
	assert.Equal(t, "switch_tab(latest)", Must(KindSwitchTab, Params{}).String())
	assert.Equal(t, "finished()", Must(KindFinished, Params{}).String())
}

package encodingfix_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wimjan123/tweede-kamer-scraper/internal/encodingfix"
)

func TestRepair(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "clean ascii", input: "De heer Wilders", want: "De heer Wilders"},
		{name: "clean accents", input: "De Caluwé", want: "De Caluwé"},
		{name: "double encoded e acute", input: "De CaluwÃ©", want: "De Caluwé"},
		{name: "double encoded u umlaut", input: "YÃ¼cel", want: "Yücel"},
		{name: "double encoded sentence", input: "Ã©Ã©n moment", want: "één moment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, encodingfix.Repair(tt.input))
		})
	}
}

func TestRepairIsIdempotent(t *testing.T) {
	once := encodingfix.Repair("De CaluwÃ©")
	require.Equal(t, once, encodingfix.Repair(once))
}

func TestRepairJSON(t *testing.T) {
	in := []byte(`{
  "title": "Verslag",
  "segments": [
    {"speaker": {"name": "De CaluwÃ©"}, "text": "Dank u wel."}
  ]
}`)

	out, changed, err := encodingfix.RepairJSON(in)
	require.NoError(t, err)
	require.True(t, changed)

	var doc struct {
		Segments []struct {
			Speaker struct {
				Name string `json:"name"`
			} `json:"speaker"`
			Text string `json:"text"`
		} `json:"segments"`
	}
	require.NoError(t, json.Unmarshal(out, &doc))
	require.Equal(t, "De Caluwé", doc.Segments[0].Speaker.Name)
	require.Equal(t, "Dank u wel.", doc.Segments[0].Text)
}

func TestRepairJSONUnchanged(t *testing.T) {
	in := []byte(`{"title": "Verslag", "date": "2024-03-01"}`)

	out, changed, err := encodingfix.RepairJSON(in)
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, in, out)
}

func TestRepairJSONRejectsInvalid(t *testing.T) {
	_, _, err := encodingfix.RepairJSON([]byte("not json"))
	require.Error(t, err)
}

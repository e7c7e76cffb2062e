package bills

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadURLTrimsTrailingSlash(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "https://example.test/spley-portal-service/expediente/2021/1234",
		PayloadURL("https://example.test/spley-portal-service/", "2021", 1234))
}

func TestDocumentURLEncodesID(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "https://example.test/api/archivo/OTAwMQ==/pdf", DocumentURL("https://example.test/api", "9001"))
}

func TestDecodeFixture(t *testing.T) {
	t.Parallel()
	body, err := os.ReadFile("testdata/expediente_2021_1234.json")
	require.NoError(t, err)

	p, err := Decode(body)
	require.NoError(t, err)
	assert.Empty(t, p.Problems)
	require.NotNil(t, p.General)
	assert.Equal(t, "2021-2026", str(p.General.Period))
	assert.Nil(t, p.General.Observations)
	require.NotNil(t, p.General.Presented)
	assert.Equal(t, time.Date(2022, 3, 14, 0, 0, 0, 0, time.UTC), p.General.Presented.Time)
	assert.Len(t, p.Signers, 3)
	assert.Len(t, p.Committees, 1)
	require.Len(t, p.Steps, 3)
	require.Len(t, p.Steps[1].Files, 2)
	assert.Equal(t, "9002", p.Steps[1].Files[1].ID.String())
}

func TestDecodeRejectsBrokenEnvelope(t *testing.T) {
	t.Parallel()
	_, err := Decode([]byte(`{"data":`))
	require.Error(t, err)

	_, err = Decode([]byte(`{"code":500}`))
	require.Error(t, err)
}

func TestDecodeDegradesMalformedSections(t *testing.T) {
	t.Parallel()
	body := []byte(`{"data":{
		"general": {"titulo": 42},
		"firmantes": [{"nombre": "A"}, {"nombre": 7}, {"nombre": "C"}],
		"comisiones": "nope",
		"seguimientos": null
	}}`)

	p, err := Decode(body)
	require.NoError(t, err)
	require.Len(t, p.Signers, 3)
	assert.Equal(t, "A", str(p.Signers[0].Name))
	assert.Nil(t, p.Signers[1].Name)
	assert.Equal(t, "C", str(p.Signers[2].Name))
	assert.Nil(t, p.Committees)
	assert.Nil(t, p.Steps)
	assert.Len(t, p.Problems, 3)
}

func TestArchiveKeepsSectionsVerbatim(t *testing.T) {
	t.Parallel()
	body := []byte(`{"data":{
		"general": {"titulo": 42},
		"firmantes": [{"nombre": "A"}],
		"comisiones": "nope"
	}}`)
	p, err := Decode(body)
	require.NoError(t, err)

	at := time.Date(2025, 5, 6, 7, 8, 9, 0, time.UTC)
	raw := p.Archive("2021_7", at)
	assert.Equal(t, "2021_7", raw.ID)
	assert.Equal(t, at, raw.FetchedAt)
	assert.JSONEq(t, `{"titulo": 42}`, string(raw.General))
	assert.JSONEq(t, `[{"nombre": "A"}]`, string(raw.Congresistas))
	assert.JSONEq(t, `"nope"`, string(raw.Committees))
	assert.Nil(t, raw.Steps)
}

func TestSourceTimeEncodings(t *testing.T) {
	t.Parallel()
	want := time.Date(2022, 5, 12, 0, 0, 0, 0, time.UTC)
	cases := map[string]string{
		"iso with zone": `"2022-05-12T00:00:00.000+0000"`,
		"rfc3339":       `"2022-05-12T00:00:00Z"`,
		"plain date":    `"2022-05-12"`,
		"day first":     `"12/05/2022"`,
		"epoch millis":  "1652313600000",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			var st SourceTime
			require.NoError(t, st.UnmarshalJSON([]byte(raw)))
			assert.True(t, want.Equal(st.Time), st.Time)
		})
	}

	var unknown SourceTime
	require.NoError(t, unknown.UnmarshalJSON([]byte(`"sometime"`)))
	assert.Nil(t, unknown.Ptr())
}

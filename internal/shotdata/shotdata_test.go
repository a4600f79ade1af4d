package shotdata

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShotPayloadWireFormat(t *testing.T) {
	raw, err := json.Marshal(NewShotPayload())
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))

	assert.Equal(t, "NEW", m["type"])
	assert.EqualValues(t, 8, m["sequenceId"])
	assert.EqualValues(t, 1300, m["actualStartFrame"])
	assert.EqualValues(t, 28, m["hodId"])
	assert.Nil(t, m["parentShotId"])
	assert.Equal(t, []any{}, m["artists"])
	assert.NotContains(t, m, "name")
}

func TestRowDetailsExpected(t *testing.T) {
	row := NewShotRow(NewShotPayload(), "TravisHead", "EASY")
	assert.Equal(t, []string{"NEW", "YTA", "TravisHead", "EASY", "1300", "1600"}, row.Expected())

	assert.Equal(t, []string{"ATS"}, RowDetails{Status: "ATS"}.Expected())
	assert.Empty(t, RowDetails{}.Expected())
}

package types

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	for _, m := range Modes {
		t.Run(m.String(), func(t *testing.T) {
			got, err := ParseMode(m.String())
			require.NoError(t, err)
			assert.Equal(t, m, got)
			assert.True(t, m.Valid())
		})
	}

	t.Run("Unknown", func(t *testing.T) {
		for _, s := range []string{"", "turbo", "IDLE", "load_match"} {
			_, err := ParseMode(s)
			assert.True(t, errors.Is(err, ErrUnknownMode), "%q should be unknown", s)
		}
	})
}

func TestModeOrder(t *testing.T) {
	assert.Equal(t, []string{"idle", "charge", "discharge", "loadmatch", "exportmatch", "schedule"}, ModeOptions())
	assert.Equal(t, ModeIdle, Modes[0])
	assert.False(t, Mode(-1).Valid())
	assert.False(t, Mode(len(Modes)).Valid())
	assert.Equal(t, "Mode(99)", Mode(99).String())
}

func TestModeJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Mode Mode `json:"mode"`
	}{ModeExportMatch})
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"exportmatch"}`, string(b))

	var v struct {
		Mode Mode `json:"mode"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"mode":"discharge"}`), &v))
	assert.Equal(t, ModeDischarge, v.Mode)

	err = json.Unmarshal([]byte(`{"mode":"boost"}`), &v)
	assert.ErrorIs(t, err, ErrUnknownMode)

	_, err = json.Marshal(Mode(12))
	assert.Error(t, err)
}

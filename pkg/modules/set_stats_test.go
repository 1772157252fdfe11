package modules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexanderGrooff/drover/pkg"
)

func TestSetStatsInput_Decode(t *testing.T) {
	input, err := pkg.DecodeArgs(SetStatsModule{}, map[string]interface{}{
		"data": map[string]interface{}{"deploys": 1},
	})
	require.NoError(t, err)

	statsInput, ok := input.(SetStatsInput)
	require.True(t, ok)
	assert.True(t, statsInput.Aggregate, "aggregate defaults to on")
	assert.False(t, statsInput.PerHost)

	input, err = pkg.DecodeArgs(SetStatsModule{}, map[string]interface{}{
		"data":      map[string]interface{}{"deploys": 1},
		"aggregate": false,
		"per_host":  true,
	})
	require.NoError(t, err)

	statsInput = input.(SetStatsInput)
	assert.False(t, statsInput.Aggregate)
	assert.True(t, statsInput.PerHost)
}

func TestSetStatsInput_Validate(t *testing.T) {
	assert.ErrorContains(t, SetStatsInput{}.Validate(), "no data provided")
	assert.NoError(t, SetStatsInput{Data: map[string]interface{}{"deploys": 1}}.Validate())
}

func TestSetStatsModule_Execute(t *testing.T) {
	input := SetStatsInput{
		Data:      map[string]interface{}{"deploys": 1, "failures": 0},
		Aggregate: true,
	}
	out, err := SetStatsModule{}.Execute(input, testCtx(newFakeConn()))
	require.NoError(t, err)

	statsOut, ok := out.(SetStatsOutput)
	require.True(t, ok)
	assert.False(t, statsOut.Changed())
	assert.Equal(t, "Recorded 2 stat(s)", statsOut.String())

	payload, ok := statsOut.AsFacts()["ansible_stats"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, input.Data, payload["data"])
	assert.Equal(t, true, payload["aggregate"])
	assert.Equal(t, false, payload["per_host"])
}

package command_test

import (
	"testing"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/deskctl/pkg/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected command.Command
		wantErr  bool
	}{
		{name: "move to favourite", input: `{"key":"move_to","value":"sit"}`, expected: command.Command{Kind: command.MoveTo, Value: "sit"}},
		{name: "numeric value", input: `{"key":"move_to","value":1020}`, expected: command.Command{Kind: command.MoveTo, Value: "1020"}},
		{name: "watch without value", input: `{"key":"watch"}`, expected: command.Command{Kind: command.Watch}},
		{name: "null value", input: `{"key":"watch","value":null}`, expected: command.Command{Kind: command.Watch}},
		{name: "height only", input: `{}`, expected: command.Command{}},
		{name: "unknown key", input: `{"key":"dance"}`, wantErr: true},
		{name: "garbage", input: `move_to sit`, wantErr: true},
		{name: "object value", input: `{"key":"move_to","value":{"h":1}}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := command.Decode([]byte(tt.input))
			if tt.wantErr {
				var ve *command.ValidationError
				assert.ErrorAs(t, err, &ve, "MUST reject with ValidationError")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, cmd)
		})
	}
}

func TestEncode(t *testing.T) {
	data, err := command.Encode(command.Command{Kind: command.MoveTo, Value: "stand"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"move_to","value":"stand"}`, string(data))

	data, err = command.Encode(command.Command{Kind: command.Watch})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"watch"}`, string(data), "empty value MUST be omitted")
}

func TestKinds(t *testing.T) {
	assert.True(t, command.MoveTo.Forwardable())
	assert.True(t, command.Kind("").Forwardable(), "height print MUST be forwardable")
	for _, k := range []command.Kind{command.Watch, command.ScanAdapter, command.RunServer, command.RunTCP} {
		assert.False(t, k.Forwardable(), "%s MUST NOT run for a remote peer", k)
	}
}

func TestResolveTarget(t *testing.T) {
	favourites := orderedmap.New[string, float64]()
	favourites.Set("sit", 650)
	favourites.Set("1000", 1100)

	target, err := command.ResolveTarget("sit", favourites)
	require.NoError(t, err)
	assert.Equal(t, command.Target{MM: 650, Favourite: "sit"}, target)

	target, err = command.ResolveTarget(" 720.5 ", favourites)
	require.NoError(t, err)
	assert.Equal(t, command.Target{MM: 720.5}, target)

	target, err = command.ResolveTarget("1000", favourites)
	require.NoError(t, err)
	assert.Equal(t, "1000", target.Favourite, "favourite names MUST win over numbers")

	for _, bad := range []string{"stand", "", "-5", "NaN"} {
		_, err := command.ResolveTarget(bad, favourites)
		var ve *command.ValidationError
		assert.ErrorAs(t, err, &ve, "%q MUST be rejected", bad)
	}

	assert.True(t, command.ValidFavouriteName("stand_up-2"))
	assert.False(t, command.ValidFavouriteName("stand up"))
}

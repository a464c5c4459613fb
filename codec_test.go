package go_hub_i_guess

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecDeserialize(t *testing.T) {
	codec := NewCodec(testMethods(t))

	msg := codec.Deserialize([]byte(`{"methodName":"SendMessage","args":["alice","hi"]}`))
	require.NotNil(t, msg)
	assert.Equal(t, "SendMessage", msg.MethodName)
	assert.Equal(t, []any{"alice", "hi"}, msg.Args)

	msg = codec.Deserialize([]byte(`{"methodName":"Move","args":[{"x":3,"y":4}]}`))
	require.NotNil(t, msg)
	assert.Equal(t, []any{testPoint{X: 3, Y: 4}}, msg.Args)

	msg = codec.Deserialize([]byte(`{"methodName":"Count","args":[7]}`))
	require.NotNil(t, msg)
	assert.Equal(t, []any{7}, msg.Args)
}

func TestCodecDeserializeFieldNamesIgnoreCase(t *testing.T) {
	codec := NewCodec(testMethods(t))

	msg := codec.Deserialize([]byte(`{"MethodName":"Count","ARGS":[1]}`))
	require.NotNil(t, msg)
	assert.Equal(t, "Count", msg.MethodName)
	assert.Equal(t, []any{1}, msg.Args)
}

func TestCodecDeserializeEmptyArgs(t *testing.T) {
	codec := NewCodec(testMethods(t))

	for _, data := range []string{
		`{"methodName":"Ping","args":[]}`,
		`{"methodName":"Ping"}`,
		`{"methodName":"Ping","args":null}`,
	} {
		msg := codec.Deserialize([]byte(data))
		require.NotNil(t, msg, data)
		assert.Equal(t, "Ping", msg.MethodName, data)
		assert.Empty(t, msg.Args, data)
	}
}

func TestCodecDeserializeRejects(t *testing.T) {
	codec := NewCodec(testMethods(t))

	for name, data := range map[string]string{
		"empty":            ``,
		"not json":         `methodName=Ping`,
		"array":            `[{"methodName":"Ping"}]`,
		"string":           `"Ping"`,
		"truncated":        `{"methodName":"Ping"`,
		"no method":        `{"args":[]}`,
		"method not text":  `{"methodName":3,"args":[]}`,
		"unknown method":   `{"methodName":"Missing","args":[]}`,
		"method case":      `{"methodName":"ping","args":[]}`,
		"args not array":   `{"methodName":"Count","args":1}`,
		"too few args":     `{"methodName":"SendMessage","args":["alice"]}`,
		"too many args":    `{"methodName":"Count","args":[1,2]}`,
		"missing args":     `{"methodName":"Count"}`,
		"wrong arg type":   `{"methodName":"Count","args":["one"]}`,
		"wrong struct arg": `{"methodName":"Move","args":[[1,2]]}`,
	} {
		assert.Nil(t, codec.Deserialize([]byte(data)), name)
	}
}

func TestCodecSerialize(t *testing.T) {
	codec := NewCodec(testMethods(t))

	data, err := codec.Serialize(&Message{
		MethodName: "ReceiveMessage",
		Args:       []any{"alice", "hi", 3},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"methodName":"ReceiveMessage","args":["alice","hi",3]}`, string(data))

	data, err = codec.Serialize(&Message{MethodName: "Ping"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"methodName":"Ping","args":[]}`, string(data))
}

func TestCodecRoundTrip(t *testing.T) {
	codec := NewCodec(testMethods(t))

	in := &Message{
		MethodName: "Move",
		Args:       []any{testPoint{X: -1, Y: 9}},
	}
	data, err := codec.Serialize(in)
	require.NoError(t, err)

	out := codec.Deserialize(data)
	require.NotNil(t, out)
	assert.Equal(t, in, out)
}

func TestHelloMessage(t *testing.T) {
	data, err := serialize(NewHelloMessage("c1"))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "Hello", got["methodName"])
	assert.Equal(t, []any{map[string]any{"clientId": "c1"}}, got["args"])
}

func TestNewCodecPanicsOnNil(t *testing.T) {
	assert.Panics(t, func() {
		NewCodec(nil)
	})
}

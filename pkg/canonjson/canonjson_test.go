package canonjson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type permutA struct {
	B int    `json:"b"`
	A string `json:"a"`
}

type permutB struct {
	A string `json:"a"`
	B int    `json:"b"`
}

func TestMarshal_InvariantUnderFieldOrderPermutation(t *testing.T) {
	out1, err := Marshal(permutA{B: 2, A: "x"})
	require.NoError(t, err)
	out2, err := Marshal(permutB{A: "x", B: 2})
	require.NoError(t, err)
	assert.Equal(t, string(out1), string(out2))
	assert.Equal(t, `{"a":"x","b":2}`, string(out1))
}

func TestMarshal_NestedSorted(t *testing.T) {
	out, err := Marshal(map[string]interface{}{
		"z": 1,
		"a": map[string]interface{}{"y": 1, "b": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"b":2,"y":1},"z":1}`, string(out))
}

func TestMarshal_NoWhitespace(t *testing.T) {
	out, err := Marshal(map[string]interface{}{"a": []int{1, 2, 3}})
	require.NoError(t, err)
	assert.NotContains(t, string(out), " ")
	assert.NotContains(t, string(out), "\n")
}

func TestMarshalOrdered_FixedOrderThenSortedRemainder(t *testing.T) {
	fields := map[string]interface{}{
		"version":  "1.0",
		"agentId":  "abc",
		"extra2":   "z",
		"extra1":   "y",
	}
	out, err := MarshalOrdered(fields, []string{"agentId", "version"})
	require.NoError(t, err)
	assert.Equal(t, `{"agentId":"abc","version":"1.0","extra1":"y","extra2":"z"}`, string(out))
}

func TestMarshalOrdered_MissingOrderFieldsSkipped(t *testing.T) {
	fields := map[string]interface{}{"a": 1}
	out, err := MarshalOrdered(fields, []string{"nonexistent", "a"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(out))
}

package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	raw, err := generate()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(raw, &schema))
	assert.Equal(t, "NNFS Configuration", schema["title"])

	props := schema["properties"].(map[string]any)
	assert.Contains(t, props, "logging")
	assert.Contains(t, props, "server")

	adapters := props["adapters"].(map[string]any)["properties"].(map[string]any)
	nnfsProps := adapters["nnfs"].(map[string]any)["properties"].(map[string]any)
	assert.Contains(t, nnfsProps, "workers")
	assert.Equal(t, "string", nnfsProps["idle_timeout"].(map[string]any)["type"])
}

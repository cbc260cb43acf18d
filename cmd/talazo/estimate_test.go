package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunEstimateVerbose(t *testing.T) {
	dir := useConfig(t, "https://api.example.com/v1/embeddings", 1000)
	input := writeFile(t, dir, "requests.jsonl",
		`{"input":"hello","metadata":{"id":"a"}}`+"\n"+`{"input":"hi"}`+"\n"+"[1,2]\n")

	cmd, out := newTestCmd(addEstimateFlags)
	setFlag(t, cmd, "input", input)
	setFlag(t, cmd, "verbose", "true")

	require.NoError(t, runEstimate(cmd, nil))

	text := out.String()
	assert.Contains(t, text, `item 0: cost 5 {"id":"a"}`)
	assert.Contains(t, text, "item 1: cost 2\n")
	assert.Contains(t, text, "✗ item 2:")
	assert.Contains(t, text, "items: 3  invalid: 1  total cost: 7  largest item: 5")
	assert.Contains(t, text, "minimum duration at 600 requests/min and 1000 cost units/min: 0s")
}

func TestRunEstimateFlagsOversizedItems(t *testing.T) {
	dir := useConfig(t, "https://api.example.com/v1/embeddings", 10)
	input := writeFile(t, dir, "requests.jsonl",
		`{"input":"ok"}`+"\n"+`{"input":"this text is far too long","metadata":{"id":"big"}}`+"\n")

	cmd, out := newTestCmd(addEstimateFlags)
	setFlag(t, cmd, "input", input)

	err := runEstimate(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 items can never be admitted")
	assert.Contains(t, out.String(), `✗ item 1: cost 25 exceeds the per-minute budget of 10 {"id":"big"}`)
	assert.False(t, strings.Contains(out.String(), "item 0:"), "non-verbose run lists only problem items")
}

func TestRunEstimateIgnoresEndpoint(t *testing.T) {
	dir := useConfig(t, "", 1000)
	input := writeFile(t, dir, "requests.jsonl", `{"input":"hello"}`+"\n")

	cmd, _ := newTestCmd(addEstimateFlags)
	setFlag(t, cmd, "input", input)

	require.NoError(t, runEstimate(cmd, nil))
}

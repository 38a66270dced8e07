package events

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []Event {
	t.Helper()
	var out []Event
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		out = append(out, ev)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestWriterEmitsJSONLines(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	w.Progress(Progress{Current: 1, Total: 4, Message: "converting", Item: "a.svs"})
	w.Result(map[string]any{"converted": 4})
	w.Error(errors.New("boom"))
	w.Error(nil)

	evs := decodeLines(t, &buf)
	require.Len(t, evs, 3)

	assert.Equal(t, "progress", evs[0].Type)
	assert.InDelta(t, 25.0, evs[0].Progress.Percent, 1e-9)
	assert.Equal(t, "a.svs", evs[0].Progress.Item)
	assert.Equal(t, "result", evs[1].Type)
	assert.EqualValues(t, 4, evs[1].Payload["converted"])
	assert.Equal(t, "error", evs[2].Type)
	assert.Equal(t, "boom", evs[2].Error)
}

func TestProgressClamped(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	w.Progress(Progress{Current: 7, Total: 5})

	evs := decodeLines(t, &buf)
	require.Len(t, evs, 1)
	assert.Equal(t, 100.0, evs[0].Progress.Percent)
}

func TestDiscardAndNil(t *testing.T) {
	var nilWriter *Writer
	assert.NotPanics(t, func() {
		Discard.Progress(Progress{Current: 1, Total: 1})
		Discard.Result(nil)
		nilWriter.Error(errors.New("x"))
	})
}

func TestConcurrentWritesStayLineAligned(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w.Progress(Progress{Current: i, Total: 32, Message: "tick"})
		}(i)
	}
	wg.Wait()

	assert.Len(t, decodeLines(t, &buf), 32)
}

package eventlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordWritesJSONLLine(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)

	l.Record(ComponentVMLifecycle, map[string]interface{}{"vmId": "vm-1", "event": "created"})
	require.NoError(t, l.Close())

	data, err := os.ReadFile(filepath.Join(dir, "vm_lifecycle.jsonl"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "\"vmId\":\"vm-1\""))
	assert.True(t, strings.HasSuffix(strings.TrimRight(string(data), "\n"), "}"))
}

func TestRecordCreatesAllFixedComponents(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)
	defer l.Close()

	for _, c := range allComponents {
		l.Record(c, map[string]interface{}{"t": time.Now().Unix()})
	}
	for _, c := range allComponents {
		_, err := os.Stat(filepath.Join(dir, c+".jsonl"))
		assert.NoError(t, err, "expected %s.jsonl to exist", c)
	}
}

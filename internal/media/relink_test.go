package media

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelinkerReportsChangedAsset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.mp4")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0644))

	var mu sync.Mutex
	var changed []string
	r, err := NewRelinker(hclog.NewNullLogger(), func(assetID string) {
		mu.Lock()
		changed = append(changed, assetID)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, r.Watch("m1", path))

	require.NoError(t, os.WriteFile(path, []byte("v2 rerendered"), 0644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changed) > 0 && changed[0] == "m1"
	}, 3*time.Second, 10*time.Millisecond)
}

func TestRelinkerRejectsMissingPath(t *testing.T) {
	r, err := NewRelinker(hclog.NewNullLogger(), nil)
	require.NoError(t, err)
	defer r.Close()

	assert.Error(t, r.Watch("m1", filepath.Join(t.TempDir(), "missing.mp4")))
}

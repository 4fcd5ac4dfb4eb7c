package paths

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/config"
	clog "github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/log"
)

func testPlanner(t *testing.T) (Planner, string) {
	t.Helper()
	base := t.TempDir()
	cfg := config.Static{Cfg: config.ServiceConfig{
		RootPath:    filepath.Join(base, "monitor"),
		StagingPath: filepath.Join(base, "staging"),
	}}
	planner := New(clog.New("error"), cfg)
	// pin the clock: 15 June 2025
	planner.Now = func() time.Time {
		return time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	}
	return planner, base
}

func TestTodayRoot(t *testing.T) {
	planner, base := testPlanner(t)
	dir, err := planner.TodayRoot()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "monitor", "15-06-2025"), dir)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestYesterdayRoot(t *testing.T) {
	planner, base := testPlanner(t)
	dir, err := planner.YesterdayRoot()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "monitor", "14-06-2025"), dir)
}

func TestTodayStaging(t *testing.T) {
	planner, base := testPlanner(t)
	dir, err := planner.TodayStaging()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "staging", "Staging", "2025", "06-2025", "15-06-2025"), dir)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestYesterdayStaging(t *testing.T) {
	planner, base := testPlanner(t)
	dir, err := planner.YesterdayStaging()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "staging", "Staging", "2025", "06-2025", "14-06-2025"), dir)
}

func TestUnconfiguredPaths(t *testing.T) {
	planner := New(clog.New("error"), config.Static{})
	_, err := planner.TodayRoot()
	assert.Error(t, err)
	_, err = planner.TodayStaging()
	assert.Error(t, err)
}

func TestRootIsIdempotent(t *testing.T) {
	planner, _ := testPlanner(t)
	first, err := planner.TodayRoot()
	require.NoError(t, err)
	second, err := planner.TodayRoot()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

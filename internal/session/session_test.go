package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openreel/engine/internal/config"
	"github.com/openreel/engine/internal/events"
	"github.com/openreel/engine/internal/export"
	"github.com/openreel/engine/internal/history"
	"github.com/openreel/engine/internal/media"
	"github.com/openreel/engine/internal/render"
	"github.com/openreel/engine/internal/timeline"
)

func testProject() *timeline.Project {
	p := timeline.NewProject("p1", "demo", 64, 36, 30, 48000)
	seq := p.Sequences[0]
	seq.Tracks = []*timeline.Track{
		{
			ID: "v1", Kind: timeline.TrackVideo, Volume: 1,
			Clips: []*timeline.Clip{
				{ID: "c1", MediaID: "m1", Kind: timeline.ClipVideo, Start: 0, Duration: 3, Opacity: 1, Volume: 1},
			},
		},
	}
	p.Assets = map[string]*timeline.MediaAssetMeta{
		"m1": {ID: "m1", Type: timeline.AssetVideo, Duration: 10, Width: 64, Height: 36, FPS: 30, Source: "full.mp4"},
	}
	seq.Normalize()
	return p
}

func newTestSession(t *testing.T) (*Session, *events.Bus) {
	t.Helper()
	cfg := config.Default()
	cfg.Media.WatchAssets = false
	bus := events.NewBus()
	s, err := New(testProject(), cfg, bus, hclog.NewNullLogger(),
		WithOpener(func(string) (media.Source, error) {
			return media.NewSyntheticSource(10, 64, 36, 30, 1.0), nil
		}))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, bus
}

func TestSessionRejectsInvalidProject(t *testing.T) {
	p := testProject()
	p.ID = ""
	_, err := New(p, config.Default(), events.NewBus(), hclog.NewNullLogger())
	require.Error(t, err)
}

func TestSessionExecutePublishesUpdates(t *testing.T) {
	s, bus := newTestSession(t)
	var updated, histChanged int
	bus.Subscribe(events.EventTimelineUpdated, func(events.Event) { updated++ })
	bus.Subscribe(events.EventHistoryChanged, func(events.Event) { histChanged++ })

	require.NoError(t, s.Execute(&history.MoveClip{ClipID: "c1", TargetTrack: "v1", NewStart: 1.0}))
	assert.Equal(t, 1, updated)
	assert.Equal(t, 1, histChanged)

	assert.True(t, s.Undo())
	assert.Equal(t, 2, updated)
	clip := s.Project().Sequences[0].Tracks[0].Clip("c1")
	require.NotNil(t, clip)
	assert.Equal(t, 0.0, clip.Start)

	assert.True(t, s.Redo())
	assert.False(t, s.Redo())
}

func TestSessionRippleAllTracksWidensRippleEdits(t *testing.T) {
	cfg := config.Default()
	cfg.Media.WatchAssets = false
	cfg.Editing.RippleAllTracks = true

	p := testProject()
	p.Sequences[0].Tracks = append(p.Sequences[0].Tracks, &timeline.Track{
		ID: "v2", Kind: timeline.TrackVideo, Rank: 1, Volume: 1,
		Clips: []*timeline.Clip{
			{ID: "c2", MediaID: "m1", Kind: timeline.ClipVideo, Start: 5, Duration: 2, Opacity: 1, Volume: 1},
		},
	})
	p.Sequences[0].Normalize()
	s, err := New(p, cfg, events.NewBus(), hclog.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	// Deleting c1 (3s) ripples the other track too when the session is
	// configured for multi-track ripple.
	require.NoError(t, s.Execute(&history.RippleDelete{ClipID: "c1"}))
	assert.Equal(t, 2.0, s.Project().Sequences[0].Track("v2").Clip("c2").Start)
}

func TestSessionSnapsEditTimesToFrameGrid(t *testing.T) {
	s, _ := newTestSession(t)

	// 1.02s is off the 30fps grid; the nearest frame boundary is 31/30.
	require.NoError(t, s.Execute(&history.MoveClip{ClipID: "c1", TargetTrack: "v1", NewStart: 1.02}))
	clip := s.Project().Sequences[0].Tracks[0].Clip("c1")
	require.NotNil(t, clip)
	assert.InDelta(t, 31.0/30.0, clip.Start, 1e-9)
}

func TestSessionSnapshotRoundTrip(t *testing.T) {
	s, _ := newTestSession(t)
	require.NoError(t, s.Execute(&history.MoveClip{ClipID: "c1", TargetTrack: "v1", NewStart: 2.0}))

	data, err := s.Snapshot()
	require.NoError(t, err)

	s2, _ := newTestSession(t)
	require.NoError(t, s2.LoadSnapshot(data))
	clip := s2.Project().Sequences[0].Tracks[0].Clip("c1")
	require.NotNil(t, clip)
	assert.Equal(t, 2.0, clip.Start)
	// Snapshots carry state, not edits: nothing to undo.
	assert.False(t, s2.Undo())
}

func TestSessionLoadSnapshotRejectsInvalid(t *testing.T) {
	s, _ := newTestSession(t)
	bad, _ := json.Marshal(map[string]any{"id": "", "sequences": []any{}})
	require.Error(t, s.LoadSnapshot(bad))
	// The previous project survives a failed load.
	assert.Equal(t, "demo", s.Project().Title)
}

func TestSessionAttachPreviewRendersFirstFrame(t *testing.T) {
	s, _ := newTestSession(t)
	surface := render.NewImageSurface(64, 36)

	player, err := s.AttachPreview(context.Background(), surface, nil)
	require.NoError(t, err)
	assert.Equal(t, render.StateReady, player.State())
	assert.Equal(t, 1, surface.DrawCount())
}

func TestSessionExportLifecycle(t *testing.T) {
	s, bus := newTestSession(t)
	done := make(chan events.Event, 1)
	bus.Subscribe(events.EventExportDone, func(e events.Event) { done <- e })
	var progressed int
	bus.Subscribe(events.EventExportProgress, func(events.Event) { progressed++ })

	enc := export.NewMemoryEncoder()
	require.NoError(t, s.StartExport(context.Background(), export.Settings{OutputPath: "out.mp4"}, enc, nil))

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("export did not complete")
	}
	assert.Equal(t, 90, enc.Frames())
	assert.True(t, enc.Finalized())
	assert.Greater(t, progressed, 0)
}

func TestImportPreviewsPopulateVideoThumbnails(t *testing.T) {
	s, _ := newTestSession(t)
	meta := &timeline.MediaAssetMeta{
		ID: "mv", Type: timeline.AssetVideo, Duration: 10,
		Width: 64, Height: 36, FPS: 30, Source: "clip.mp4",
	}

	s.generatePreviews(context.Background(), media.NewProber(hclog.NewNullLogger()), meta)
	require.Len(t, meta.Thumbnails, s.cfg.Media.ThumbnailCount)
	for _, thumb := range meta.Thumbnails {
		assert.NotEmpty(t, thumb)
	}
}

func TestSessionUnknownAssetFailsAttach(t *testing.T) {
	s, _ := newTestSession(t)
	s.Project().Sequences[0].Tracks[0].Clips[0].MediaID = "ghost"

	_, err := s.AttachPreview(context.Background(), render.NewImageSurface(64, 36), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

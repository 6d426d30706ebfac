package entity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlide_InsertRendererOnce(t *testing.T) {
	s := NewSlide("CMU-1", "/data/CMU-1.tiff", []Level{{Width: 1000, Height: 800, Downsample: 1}}, 40)
	first := NewRenderer(RendererSegmentation, "tumor")
	second := NewRenderer(RendererSegmentation, "tumor")

	got, inserted := s.InsertRenderer("tumor", first)
	require.True(t, inserted)
	require.Same(t, first, got)

	got, inserted = s.InsertRenderer("tumor", second)
	require.False(t, inserted)
	require.Same(t, first, got)
	require.True(t, s.HasRenderer("tumor"))

	s.RemoveRenderer("tumor")
	require.False(t, s.HasRenderer("tumor"))
}

func TestSlide_FullSize(t *testing.T) {
	s := NewSlide("a", "a.png", []Level{{Width: 10, Height: 20, Downsample: 1}, {Width: 5, Height: 10, Downsample: 2}}, 20)
	w, h := s.FullSize()
	require.Equal(t, 10, w)
	require.Equal(t, 20, h)
	require.Empty(t, s.RendererNames())
}

func TestBoundingBox_IoU(t *testing.T) {
	a := BoundingBox{X: 0, Y: 0, Width: 10, Height: 10}
	b := BoundingBox{X: 5, Y: 0, Width: 10, Height: 10}
	require.InDelta(t, 50.0/150.0, a.IoU(b), 1e-9)
	require.Equal(t, 0.0, a.IoU(BoundingBox{X: 20, Y: 20, Width: 1, Height: 1}))
}

func TestKindFromExtension(t *testing.T) {
	k, ok := KindFromExtension(".TIFF")
	require.True(t, ok)
	require.Equal(t, ArtifactPyramid, k)
	_, ok = KindFromExtension(".txt")
	require.False(t, ok)
	require.Equal(t, "", ArtifactBoxes.Extension())
}

package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"pathoflow/internal/domain/entity"
)

func TestNonMaxSuppression(t *testing.T) {
	boxes := []entity.BoundingBox{
		{X: 0, Y: 0, Width: 10, Height: 10, Label: 0, Score: 0.6},
		{X: 1, Y: 1, Width: 10, Height: 10, Label: 0, Score: 0.9},
		{X: 1, Y: 1, Width: 10, Height: 10, Label: 1, Score: 0.5},
		{X: 50, Y: 50, Width: 10, Height: 10, Label: 0, Score: 0.3},
	}
	kept := NonMaxSuppression(boxes, 0.5)
	require.Len(t, kept, 3)
	require.Equal(t, float32(0.9), kept[0].Score)
	require.Equal(t, 1, kept[1].Label)
	require.Equal(t, float64(50), kept[2].X)
}

func TestNonMaxSuppression_Threshold(t *testing.T) {
	boxes := []entity.BoundingBox{
		{X: 0, Y: 0, Width: 10, Height: 10, Score: 0.9},
		{X: 5, Y: 0, Width: 10, Height: 10, Score: 0.8},
	}
	// IoU = 50 / 150
	require.Len(t, NonMaxSuppression(boxes, 0.5), 2)
	require.Len(t, NonMaxSuppression(boxes, 0.3), 1)
}

func TestDecodeYOLO_NCHW(t *testing.T) {
	classes := 2
	per := entity.AnchorsPerCell * (5 + classes)
	anchors := entity.Anchors{{{8, 16}, {1, 1}, {1, 1}}}

	out := entity.NewTensor(1, int64(per), 2, 2)
	for i := range out.Data {
		out.Data[i] = -10
	}
	set := func(k, y, x int, v float32) { out.Data[(k*2+y)*2+x] = v }
	// ячейка (y=1, x=0), якорь 0, класс 1
	for k := 0; k < 4; k++ {
		set(k, 1, 0, 0)
	}
	set(4, 1, 0, 10)
	set(6, 1, 0, 10)

	boxes, err := DecodeYOLO([]*entity.Tensor{out}, anchors, DecodeParams{Classes: classes, InputW: 64, InputH: 64, Threshold: 0.5})
	require.NoError(t, err)
	require.Len(t, boxes, 1)
	b := boxes[0]
	require.Equal(t, 1, b.Label)
	require.InDelta(t, 8, b.Width, 1e-9)
	require.InDelta(t, 16, b.Height, 1e-9)
	require.InDelta(t, 16-4, b.X, 1e-9)
	require.InDelta(t, 48-8, b.Y, 1e-9)
}

func TestDecodeYOLO_TooFewOutputs(t *testing.T) {
	anchors := entity.Anchors{{{1, 1}}, {{1, 1}}}
	_, err := DecodeYOLO([]*entity.Tensor{entity.NewTensor(1, 1, 1, 6)}, anchors, DecodeParams{Classes: 1})
	require.ErrorIs(t, err, entity.ErrConfiguration)
}

func TestBoxAccumulator(t *testing.T) {
	var acc BoxAccumulator
	acc.Add([]entity.BoundingBox{{X: 1, Y: 2, Width: 3, Height: 4, Score: 1}}, 100, 200, 1, 1, 4)
	boxes := acc.Boxes()
	require.Equal(t, []entity.BoundingBox{{X: 404, Y: 808, Width: 12, Height: 16, Score: 1}}, boxes)
}

func TestDecodeYOLO_ShortOutput(t *testing.T) {
	anchors := entity.Anchors{{{1, 1}, {2, 2}, {3, 3}}}
	short := &entity.Tensor{Shape: []int64{1, 2, 2, 18}, Data: []float32{0, 0, 0, 0}}
	require.NotPanics(t, func() {
		_, err := DecodeYOLO([]*entity.Tensor{short}, anchors, DecodeParams{Classes: 1})
		require.ErrorIs(t, err, entity.ErrConfiguration)
	})
	require.NotPanics(t, func() {
		_, err := DecodeYOLO([]*entity.Tensor{nil}, anchors, DecodeParams{Classes: 1})
		require.ErrorIs(t, err, entity.ErrConfiguration)
	})
}

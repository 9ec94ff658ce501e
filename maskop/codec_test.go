package maskop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWireFormat(t *testing.T) {
	l := &OperationLog{
		Events:  []Batch{{NewBox(0, 0, 50, 50, FillRevealed)}},
		Pointer: 1,
	}
	data, err := Encode(l)
	require.NoError(t, err)
	assert.JSONEq(t, `{"events":[[{"shape":1,"x":0,"y":0,"width":50,"height":50,"fill":0}]],"pointer":1}`, string(data))

	data, err = Encode(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"events":[],"pointer":0}`, string(data))
}

func TestEncodePolygonOmitsSize(t *testing.T) {
	l := &OperationLog{
		Events:  []Batch{{NewPolygon(0, 0, []float64{0, 0, 10, 0, 10, 10}, FillFogged)}},
		Pointer: 1,
	}
	data, err := Encode(l)
	require.NoError(t, err)
	assert.JSONEq(t, `{"events":[[{"shape":3,"x":0,"y":0,"vertices":[0,0,10,0,10,10],"fill":16777215}]],"pointer":1}`, string(data))
}

func TestDecodeCurrentFormat(t *testing.T) {
	l, err := Decode([]byte(`{"events":[[{"shape":0,"x":5,"y":6,"width":7,"height":8,"fill":16777215}],[{"shape":2,"x":1,"y":1,"width":4,"height":4,"fill":0}]],"pointer":1}`))
	require.NoError(t, err)
	require.Len(t, l.Events, 2)
	assert.Equal(t, 1, l.Pointer)
	assert.Equal(t, NewEllipse(5, 6, 7, 8, FillFogged), l.Events[0][0])
	assert.Equal(t, RoundedRect, l.Events[1][0].Shape)
}

func TestDecodeEmptyObject(t *testing.T) {
	l, err := Decode([]byte(`{}`))
	require.NoError(t, err)
	assert.NotNil(t, l.Events)
	assert.Equal(t, 0, l.Pointer)
}

func TestDecodeKeepsUnknownShapes(t *testing.T) {
	l, err := Decode([]byte(`{"events":[[{"shape":9,"x":1,"y":2,"fill":0}]],"pointer":1}`))
	require.NoError(t, err)
	assert.Equal(t, Shape(9), l.Events[0][0].Shape)
	assert.False(t, l.Events[0][0].Shape.Known())
}

func TestDecodeLegacyIsRejected(t *testing.T) {
	_, err := Decode([]byte(`{"events":[[{"shape":"box","x":1.4,"y":2,"fill":0}]],"pointer":1}`))
	assert.ErrorIs(t, err, ErrLegacyFormat)
}

func TestNormalizeLegacyLog(t *testing.T) {
	legacy := `{"events":[[
		{"shape":"ellipse","x":10.6,"y":20.2,"width":30.5,"height":4,"fill":16777215,"visible":true,"alpha":1},
		{"shape":"box","x":1,"y":2,"width":3,"height":4,"fill":"0x000000"},
		{"shape":"shape","x":0,"y":0,"vertices":[0,0,5,0,5,5],"fill":"#ffffff"},
		{"shape":"polygon","x":0,"y":0,"vertices":[1,1,2,2,3,1],"fill":0}
	]],"pointer":1}`

	l, changed, err := Normalize([]byte(legacy))
	require.NoError(t, err)
	assert.True(t, changed)
	require.Len(t, l.Events, 1)

	ops := l.Events[0]
	require.Len(t, ops, 4)
	assert.Equal(t, Operation{Shape: Ellipse, X: 11, Y: 20, Width: 31, Height: 4, Fill: FillFogged}, ops[0])
	assert.Equal(t, NewBox(1, 2, 3, 4, FillRevealed), ops[1])
	assert.Equal(t, Polygon, ops[2].Shape)
	assert.Equal(t, FillFogged, ops[2].Fill)
	assert.Equal(t, []float64{0, 0, 5, 0, 5, 5}, ops[2].Vertices)
	assert.Equal(t, Polygon, ops[3].Shape)

	// The normalized log encodes in the current format.
	data, err := Encode(l)
	require.NoError(t, err)
	_, err = Decode(data)
	assert.NoError(t, err)
}

func TestNormalizeCurrentFormatIsUnchanged(t *testing.T) {
	_, changed, err := Normalize([]byte(`{"events":[[{"shape":1,"x":0,"y":0,"width":50,"height":50,"fill":0}]],"pointer":1}`))
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestNormalizeKeepsUnknownLegacyShape(t *testing.T) {
	l, changed, err := Normalize([]byte(`{"events":[[{"shape":"box","x":0,"y":0,"width":10,"height":10,"fill":"0x000000"}],[{"shape":"star","x":0,"y":0,"fill":0},{"shape":"ellipse","x":20,"y":20,"width":4,"height":4,"fill":0}]],"pointer":2}`))
	require.NoError(t, err)
	assert.True(t, changed)
	require.Len(t, l.Events, 2)
	assert.Equal(t, 2, l.Pointer)

	assert.Equal(t, Box, l.Events[0][0].Shape)
	require.Len(t, l.Events[1], 2)
	assert.Equal(t, UnknownShape, l.Events[1][0].Shape)
	assert.False(t, l.Events[1][0].Shape.Known())
	assert.Equal(t, Ellipse, l.Events[1][1].Shape)
}

func TestParseFill(t *testing.T) {
	cases := map[string]Fill{
		"0xFFFFFF": FillFogged,
		"#000000":  FillRevealed,
		"0x808080": Gray(0x80),
		"255":      Fill(255),
	}
	for in, want := range cases {
		got, err := ParseFill(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFill("0xZZ")
	assert.Error(t, err)
}

func TestDigestIsStable(t *testing.T) {
	a, err := Encode(&OperationLog{Events: []Batch{{NewBox(0, 0, 1, 1, 0)}}, Pointer: 1})
	require.NoError(t, err)
	b, err := Encode(&OperationLog{Events: []Batch{{NewBox(0, 0, 1, 1, 0)}}, Pointer: 1})
	require.NoError(t, err)
	assert.Equal(t, Digest(a), Digest(b))

	c, err := Encode(&OperationLog{Events: []Batch{{NewBox(0, 0, 1, 1, 0)}}, Pointer: 0})
	require.NoError(t, err)
	assert.NotEqual(t, Digest(a), Digest(c))
}

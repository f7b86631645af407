package rdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuadSetIdentity(t *testing.T) {
	s := NewURI("http://example.org/s")
	p := NewURI("http://example.org/p")
	g := NewURI("http://example.org/g")

	set := NewQuadSet()
	assert.True(t, set.Add(NewQuad(s, p, NewLiteral("v"), g)))
	assert.False(t, set.Add(NewQuad(s, p, NewLiteral("v"), g)))
	assert.True(t, set.Add(NewTriple(s, p, NewLiteral("v"))))
	assert.Equal(t, 2, set.Len())

	assert.Equal(t, 1, set.WithoutGraphs().Len())
	assert.Len(t, set.Find(QuadPattern{Graph: g}), 1)
}

func TestQuadSetCloneIsIndependent(t *testing.T) {
	q := NewTriple(NewURI("s"), NewURI("p"), NewURI("o"))
	orig := NewQuadSet(q)
	c := orig.Clone()
	c.Remove(q)

	assert.Equal(t, 1, orig.Len())
	assert.Equal(t, 0, c.Len())
	assert.False(t, orig.Equal(c))
}

func TestIsTraversable(t *testing.T) {
	s := NewURI("http://example.org/s")
	assert.True(t, IsTraversable(NewTriple(s, NewURI("http://purl.org/spar/pro/isHeldBy"), NewURI("http://example.org/ra"))))
	assert.False(t, IsTraversable(NewTriple(s, NewURI(RDFType), NewURI("http://example.org/Class"))))
	assert.False(t, IsTraversable(NewTriple(s, NewURI(ProvWasDerivedFrom), NewURI("http://example.org/se/1"))))
	assert.False(t, IsTraversable(NewTriple(s, NewURI("http://example.org/p"), NewLiteral("x"))))
}

func TestNQuadsIsSorted(t *testing.T) {
	set := NewQuadSet(
		NewTriple(NewURI("b"), NewURI("p"), NewLiteral("2")),
		NewTriple(NewURI("a"), NewURI("p"), NewLiteral("1")),
	)
	assert.Equal(t, "<a> <p> \"1\" .\n<b> <p> \"2\" .\n", set.NQuads())
}

func TestQuadSetMarshalJSON(t *testing.T) {
	set := NewQuadSet(NewTriple(NewURI("b"), NewURI("p"), NewLiteral(`say "hi"`)))
	data, err := set.MarshalJSON()
	assert.NoError(t, err)
	assert.JSONEq(t, `["<b> <p> \"say \\\"hi\\\"\" ."]`, string(data))

	data, err = NewQuadSet().MarshalJSON()
	assert.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

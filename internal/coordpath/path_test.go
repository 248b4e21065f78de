package coordpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoot(t *testing.T) {
	for _, raw := range []string{"", "/"} {
		p, err := Parse(raw)
		require.NoError(t, err)
		assert.True(t, p.IsRoot())
		assert.Equal(t, "/", p.String())
	}
}

func TestParseRoundTrip(t *testing.T) {
	cases := []string{
		"/a",
		"/a/b/c",
		"/locks/queue-a",
	}
	for _, raw := range cases {
		p, err := Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, raw, p.String())
	}
}

func TestParseEscaped(t *testing.T) {
	p, err := Parse(`/a\/b/c`)
	require.NoError(t, err)
	require.Equal(t, []string{"a/b", "c"}, p.Segments())
	assert.Equal(t, `/a\/b/c`, p.String())
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse("no-leading-slash")
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = Parse("/a//b")
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = Parse(`/trailing\`)
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestChildAndParent(t *testing.T) {
	root := Root()
	a := root.Child("a")
	b := a.Child("b")

	assert.Equal(t, "/a/b", b.String())
	assert.Equal(t, "b", b.Base())

	parent, ok := b.Parent()
	require.True(t, ok)
	assert.True(t, parent.Equal(a))

	_, ok = root.Parent()
	assert.False(t, ok)
}

func TestEqual(t *testing.T) {
	a, _ := Parse("/a/b")
	b, _ := Parse("/a/b")
	c, _ := Parse("/a/c")
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestStructuralSharing(t *testing.T) {
	base := MustParse("/a/b")
	c1 := base.Child("c1")
	c2 := base.Child("c2")
	// each child copies the "a","b" prefix into its own slice, so both
	// prefixes equal the parent's segments even though the slices are
	// distinct.
	assert.Equal(t, base.Segments(), c1.Segments()[:2])
	assert.Equal(t, base.Segments(), c2.Segments()[:2])
}

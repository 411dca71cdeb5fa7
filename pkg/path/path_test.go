package path_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsondb/jsondb/pkg/document"
	"github.com/jsondb/jsondb/pkg/path"
)

func Test_Split_HonorsEscapes(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "Empty", input: "", expected: nil},
		{name: "Single", input: "user", expected: []string{"user"}},
		{name: "Nested", input: "user.name", expected: []string{"user", "name"}},
		{name: "EscapedDot", input: `a\.b.c`, expected: []string{"a.b", "c"}},
		{name: "EscapedBackslash", input: `a\\b`, expected: []string{`a\b`}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.expected, path.Split(tc.input))
		})
	}
}

func Test_Get_Set_Has_Unset_RoundTrip(t *testing.T) {
	t.Parallel()

	root := document.NewObject()

	err := path.Set(&root, "user.name", document.NewString("John Doe"))
	require.NoError(t, err)

	val, ok := path.Get(root, "user.name")
	require.True(t, ok)

	name, _ := val.String()
	assert.Equal(t, "John Doe", name)

	assert.True(t, path.Has(root, "user.name"))
	assert.False(t, path.Has(root, "user.email"))

	removed, err := path.Unset(root, "user.name")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, path.Has(root, "user.name"))
}

func Test_Set_CreatesIntermediatesAsObjects(t *testing.T) {
	t.Parallel()

	root := document.NewObject()

	err := path.Set(&root, "a.0.b", document.NewInt(1))
	require.NoError(t, err)

	// "0" against a freshly-created intermediate must create an object
	// keyed by the string "0", never an array.
	a, ok := root.Get("a")
	require.True(t, ok)
	assert.Equal(t, document.Object, a.Kind())

	zero, ok := a.Get("0")
	require.True(t, ok)
	assert.Equal(t, document.Object, zero.Kind())
}

func Test_Set_ArrayAppendAndReplace(t *testing.T) {
	t.Parallel()

	root := document.NewObject()
	root.Set("list", document.NewArray(document.NewInt(1), document.NewInt(2)))

	// Index equal to length appends.
	err := path.Set(&root, "list.2", document.NewInt(3))
	require.NoError(t, err)

	list, _ := root.Get("list")
	assert.Equal(t, 3, list.Len())

	// In-range index replaces.
	err = path.Set(&root, "list.0", document.NewInt(99))
	require.NoError(t, err)

	first, _ := list.Index(0).Int()
	assert.Equal(t, int64(99), first)

	// Out-of-range index is a type mismatch.
	err = path.Set(&root, "list.10", document.NewInt(0))
	require.ErrorIs(t, err, path.ErrPathTypeMismatch)

	// Non-integer segment against an array is a type mismatch.
	err = path.Set(&root, "list.foo", document.NewInt(0))
	require.ErrorIs(t, err, path.ErrPathTypeMismatch)
}

func Test_Set_EmptyPath_ReplacesRoot(t *testing.T) {
	t.Parallel()

	var root *document.Value

	newRoot := document.NewObject()
	newRoot.Set("a", document.NewInt(1))

	err := path.Set(&root, "", newRoot)
	require.NoError(t, err)
	assert.True(t, document.Equal(root, newRoot))

	err = path.Set(&root, "", document.NewArray())
	require.ErrorIs(t, err, path.ErrPathTypeMismatch)
}

package prompts

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestByCategory_FindsMatch(t *testing.T) {
	tmpl := ByCategory(CategoryInterview)
	require.Equal(t, CategoryInterview, tmpl.Category)
	require.Equal(t, KindPreset, tmpl.Kind)
}

func TestByCategory_FallsBackToGeneral(t *testing.T) {
	tmpl := ByCategory(CategoryCustom)
	require.Equal(t, CategoryGeneral, tmpl.Category)
}

func TestCustom_BuildsCustomKindTemplate(t *testing.T) {
	tmpl := Custom("my-id", "body text", []string{"a", "b"})
	require.Equal(t, KindCustom, tmpl.Kind)
	require.Equal(t, CategoryCustom, tmpl.Category)
	require.Equal(t, "body text", tmpl.Body)
}

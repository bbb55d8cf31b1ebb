package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugifyAccentsAndSpaces(t *testing.T) {
	assert.Equal(t, "ete-2024", slugify("Été 2024", "default"))
}

func TestSlugifyCollapsesSeparators(t *testing.T) {
	assert.Equal(t, "client-y", slugify("Client___Y", "default"))
}

func TestSlugifyTrimsHyphens(t *testing.T) {
	assert.Equal(t, "projet", slugify("  -Projet-  ", "default"))
}

func TestSlugifyEmptyFallsBackToDefault(t *testing.T) {
	assert.Equal(t, "default", slugify("   ", "default"))
	assert.Equal(t, "default", slugify("!!!", "default"))
}

func TestSlugifyDropsPunctuationWithoutIntroducingHyphens(t *testing.T) {
	assert.Equal(t, "ab", slugify("a!!!b", "default"))
}

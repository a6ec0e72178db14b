package help

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nhle/bank-notifications/internal/keys"
)

func TestViewGroupsBindingsByView(t *testing.T) {
	view := New(keys.DefaultKeyMap(), 140, 60).View()

	for _, heading := range []string{"Inbox", "Notification", "Bell", "Anywhere"} {
		assert.Contains(t, view, heading)
	}
	assert.Contains(t, view, "copy link")
	assert.Contains(t, view, "mark all read")
	assert.Contains(t, view, "min severity")
}

func TestViewShowsLegend(t *testing.T) {
	view := New(keys.DefaultKeyMap(), 140, 60).View()

	for _, want := range []string{
		"INFO", "WARNING", "CRITICAL",
		"TRANSACTION", "SECURITY", "OTHER",
		"connected", "connecting", "disconnected",
	} {
		assert.Contains(t, view, want)
	}
}

func TestSectionsUseKeyMapBindings(t *testing.T) {
	km := keys.DefaultKeyMap()
	m := New(km, 80, 24)

	sections := m.sections()
	assert.Len(t, sections, 4)
	assert.Equal(t, km.OpenRef.Help().Desc, sections[1].bindings[1].Help().Desc)
}

package ui

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"

	"github.com/taskorch/taskorch/internal/types"
)

func plain(t *testing.T) {
	t.Helper()
	prev := lipgloss.ColorProfile()
	lipgloss.SetColorProfile(termenv.Ascii)
	t.Cleanup(func() { lipgloss.SetColorProfile(prev) })
}

func TestRenderFlow(t *testing.T) {
	plain(t)
	seq := []string{"pending", "in-progress", "completed"}
	assert.Equal(t, "pending → [in-progress] → completed", RenderFlow(seq, 1))
	assert.Equal(t, "pending → in-progress → completed", RenderFlow(seq, -1))
	assert.Equal(t, "", RenderFlow(nil, 0))
}

func TestStyleForRole(t *testing.T) {
	assert.Equal(t, PassStyle.GetForeground(), StyleForRole(types.RoleTerminal).GetForeground())
	assert.Equal(t, MutedStyle.GetForeground(), StyleForRole(types.RoleQueue).GetForeground())
	assert.Equal(t, FailStyle.GetForeground(), StyleForRole(types.RoleNone).GetForeground())

	plain(t)
	assert.Equal(t, "in-review", RenderStatus("in-review", types.RoleReview))
	assert.Equal(t, "PHASE", RenderCategory("phase"))
}

func TestIconsWithoutEmoji(t *testing.T) {
	plain(t)
	t.Setenv("TASKORCH_NO_EMOJI", "1")
	assert.Equal(t, TextPass, RenderPassIcon())
	assert.Equal(t, TextWarn, RenderWarnIcon())
	assert.Equal(t, TextFail, RenderFailIcon())
	assert.Equal(t, TextSkip, RenderSkipIcon())
	assert.Equal(t, TextInfo, RenderInfoIcon())
}

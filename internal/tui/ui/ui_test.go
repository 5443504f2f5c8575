package ui

import (
	"testing"
	"time"

	"github.com/rivo/tview"
	"github.com/stretchr/testify/assert"
)

type page struct {
	*tview.Box
	name string
}

func (p page) Name() string       { return p.name }
func (p page) Hints() []MenuHint { return nil }

func newPage(name string) page { return page{Box: tview.NewBox(), name: name} }

func TestPagesStack(t *testing.T) {
	p := NewPages()
	var seen []string
	p.SetOnChange(func(stack []string) { seen = stack })

	p.Push(newPage("Conversations"))
	p.Push(newPage("Bob"))
	p.Push(newPage("Details"))
	p.Push(newPage("Details"))
	assert.Equal(t, []string{"Conversations", "Bob", "Details"}, seen)

	assert.Equal(t, "Details", p.Pop().Name())
	assert.Equal(t, "Bob", p.Current().Name())
	assert.False(t, p.HasPage("Details"))

	p.Reset()
	assert.Equal(t, []string{"Conversations"}, p.Names())
	assert.Nil(t, p.Pop(), "root is never popped")
}

func TestFlashExpires(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f := NewFlash()
	f.now = func() time.Time { return now }

	assert.Nil(t, f.Current())
	f.Err("upload failed")
	m := f.Current()
	if assert.NotNil(t, m) {
		assert.Equal(t, FlashErr, m.Level)
		assert.Equal(t, "upload failed", m.Text)
	}

	now = now.Add(11 * time.Second)
	assert.Nil(t, f.Current())
}

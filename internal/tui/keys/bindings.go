// Package keys maps key presses to actions per page.
package keys

import "github.com/gdamore/tcell/v2"

// Action is a key bound to a handler.
type Action struct {
	Key     tcell.Key
	Rune    rune // for tcell.KeyRune
	Handler func()
}

// Matches reports whether ev triggers a.
func (a Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// Registry holds global bindings and bindings scoped to a page name.
// Page bindings win over global ones.
type Registry struct {
	global []Action
	pages  map[string][]Action
}

func NewRegistry() *Registry {
	return &Registry{pages: make(map[string][]Action)}
}

// Global binds r on every page.
func (r *Registry) Global(key tcell.Key, ch rune, fn func()) {
	r.global = append(r.global, Action{Key: key, Rune: ch, Handler: fn})
}

// Page binds r on page only.
func (r *Registry) Page(page string, key tcell.Key, ch rune, fn func()) {
	r.pages[page] = append(r.pages[page], Action{Key: key, Rune: ch, Handler: fn})
}

// Handle runs the first matching action and reports whether one ran.
func (r *Registry) Handle(page string, ev *tcell.EventKey) bool {
	for _, set := range [][]Action{r.pages[page], r.global} {
		for _, a := range set {
			if a.Matches(ev) {
				a.Handler()
				return true
			}
		}
	}
	return false
}

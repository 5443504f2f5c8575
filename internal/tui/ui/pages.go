package ui

import "github.com/rivo/tview"

// Pages is a navigation stack over tview.Pages. Pushed components are added
// on demand and removed again when popped.
type Pages struct {
	*tview.Pages
	stack    []Component
	onChange func(stack []string)
}

// NewPages creates an empty stack.
func NewPages() *Pages {
	return &Pages{Pages: tview.NewPages()}
}

// SetOnChange registers a callback receiving the page names after each change.
func (p *Pages) SetOnChange(fn func(stack []string)) {
	p.onChange = fn
}

// Push shows c on top of the stack. c must also be a tview.Primitive.
// Pushing a page with the name of the current one is a no-op.
func (p *Pages) Push(c Component) {
	if cur := p.Current(); cur != nil && cur.Name() == c.Name() {
		return
	}
	prim := c.(tview.Primitive)
	p.AddAndSwitchToPage(c.Name(), prim, true)
	p.stack = append(p.stack, c)
	p.notify()
}

// Pop removes the top component and returns it. The root is never popped.
func (p *Pages) Pop() Component {
	if len(p.stack) <= 1 {
		return nil
	}
	top := p.stack[len(p.stack)-1]
	p.stack = p.stack[:len(p.stack)-1]
	p.RemovePage(top.Name())
	p.SwitchToPage(p.Current().Name())
	p.notify()
	return top
}

// Current returns the top component, nil when empty.
func (p *Pages) Current() Component {
	if len(p.stack) == 0 {
		return nil
	}
	return p.stack[len(p.stack)-1]
}

// Reset pops everything above the root.
func (p *Pages) Reset() []Component {
	var popped []Component
	for len(p.stack) > 1 {
		popped = append(popped, p.Pop())
	}
	return popped
}

// Names returns the page names, root first.
func (p *Pages) Names() []string {
	names := make([]string, len(p.stack))
	for i, c := range p.stack {
		names[i] = c.Name()
	}
	return names
}

func (p *Pages) notify() {
	if p.onChange != nil {
		p.onChange(p.Names())
	}
}

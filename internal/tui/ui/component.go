package ui

// MenuHint is one shortcut shown in the menu column.
type MenuHint struct {
	Key         string
	Description string
}

// Component is a page that can be pushed on the page stack.
type Component interface {
	Name() string
	Hints() []MenuHint
}

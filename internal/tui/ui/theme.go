package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
)

// Theme holds the colors of every view.
type Theme struct {
	Bg            tcell.Color
	Fg            tcell.Color
	Border        tcell.Color
	BorderFocus   tcell.Color
	Title         tcell.Color
	HeaderFg      tcell.Color
	CursorFg      tcell.Color
	CursorBg      tcell.Color
	CrumbActive   tcell.Color
	CrumbInactive tcell.Color
	Key           tcell.Color
	Counter       tcell.Color
	Own           tcell.Color // messages sent by the user
	Peer          tcell.Color
	Pending       tcell.Color
	Failed        tcell.Color
	Info          tcell.Color
	Warn          tcell.Color
}

// DefaultTheme returns the dark theme.
func DefaultTheme() *Theme {
	return &Theme{
		Bg:            tcell.ColorBlack,
		Fg:            tcell.ColorSilver,
		Border:        tcell.ColorTeal,
		BorderFocus:   tcell.ColorAquaMarine,
		Title:         tcell.ColorGold,
		HeaderFg:      tcell.ColorWhite,
		CursorFg:      tcell.ColorBlack,
		CursorBg:      tcell.ColorAquaMarine,
		CrumbActive:   tcell.ColorGold,
		CrumbInactive: tcell.ColorTeal,
		Key:           tcell.ColorDodgerBlue,
		Counter:       tcell.ColorPapayaWhip,
		Own:           tcell.ColorLightGreen,
		Peer:          tcell.ColorLightSkyBlue,
		Pending:       tcell.ColorGray,
		Failed:        tcell.ColorOrangeRed,
		Info:          tcell.ColorNavajoWhite,
		Warn:          tcell.ColorOrange,
	}
}

// Tag returns c as a tview color tag value.
func Tag(c tcell.Color) string {
	for name, val := range tcell.ColorNames {
		if val == c {
			return name
		}
	}
	return fmt.Sprintf("#%06x", c.Hex())
}

package main

import (
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/kuuji/policygate/internal/policy"
)

const (
	// Palette
	colorGrayDim = "#55626D"
	colorRed     = "#F76C7C"
	colorYellow  = "#E3D367"
	colorGreen   = "#9CD57B"
	colorBlue    = "#78CEE9"
	colorPurple  = "#BAA0F8"
	colorFg      = "#E1E2E3"
	colorGray    = "#82878B"
)

var (
	// Base styles for CLI output.
	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorYellow))
	styleKey    = lipgloss.NewStyle().Foreground(lipgloss.Color(colorBlue)) // Blue for keys (Config:, etc.)
	styleOK     = lipgloss.NewStyle().Foreground(lipgloss.Color(colorGreen))
	styleBad    = lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed))
	styleDim    = lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray))
	styleCell   = lipgloss.NewStyle().Padding(0, 1)
	styleBorder = lipgloss.NewStyle().Foreground(lipgloss.Color(colorGrayDim))
)

// profileStyle colours a profile name in listings.
func profileStyle(profile string) lipgloss.Style {
	p, ok := policy.ParseProfile(profile)
	if !ok {
		return styleBad
	}
	switch p {
	case policy.VPN:
		return lipgloss.NewStyle().Foreground(lipgloss.Color(colorBlue))
	case policy.Secure:
		return lipgloss.NewStyle().Foreground(lipgloss.Color(colorPurple))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color(colorFg))
	}
}

// customHuhTheme returns a huh theme using our palette.
func customHuhTheme() *huh.Theme {
	t := huh.ThemeDracula() // Start with a dark theme base.

	yellow := lipgloss.Color(colorYellow)
	gray := lipgloss.Color(colorGray)
	fg := lipgloss.Color(colorFg)

	// Base
	t.Focused.Base = t.Focused.Base.BorderForeground(yellow).Foreground(fg)
	t.Blurred.Base = t.Blurred.Base.BorderForeground(gray).Foreground(fg)

	// Title
	t.Focused.Title = t.Focused.Title.Foreground(yellow).Bold(true)
	t.Blurred.Title = t.Blurred.Title.Foreground(gray)

	// Description
	t.Focused.Description = t.Focused.Description.Foreground(gray)
	t.Blurred.Description = t.Blurred.Description.Foreground(lipgloss.Color(colorGrayDim))

	// Selection
	t.Focused.SelectedOption = t.Focused.SelectedOption.Foreground(yellow).Bold(true)

	// TextInput
	t.Focused.TextInput.Cursor = t.Focused.TextInput.Cursor.Foreground(yellow)
	t.Focused.TextInput.Placeholder = t.Focused.TextInput.Placeholder.Foreground(lipgloss.Color(colorGrayDim))

	// Errors from the IP validator
	t.Focused.ErrorMessage = t.Focused.ErrorMessage.Foreground(lipgloss.Color(colorRed))

	return t
}

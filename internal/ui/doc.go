// Package ui styles the terminal output of the sobelx commands with lipgloss.
//
// [Palette] holds the named styles; [Outcome] and [Table] render the pieces the client and the
// admin commands print.
package ui

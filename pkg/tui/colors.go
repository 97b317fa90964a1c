// Package tui предоставляет color schemes и стили для TUI компонентов.
package tui

import "github.com/charmbracelet/lipgloss"

// ColorScheme определяет цвета для различных элементов TUI.
//
// Каждое поле - это lipgloss.Color (может быть hex, ANSI, или named color).
type ColorScheme struct {
	// Status Bar
	StatusBackground lipgloss.Color
	StatusForeground lipgloss.Color

	// Messages
	SystemMessage lipgloss.Color // Системные сообщения (серый)
	UserMessage   lipgloss.Color // Сообщения пользователя (желтый)
	AIMessage     lipgloss.Color // Ответ агента (cyan)
	ErrorMessage  lipgloss.Color // Ошибки (красный)
	FunctionCall  lipgloss.Color // Вызовы функций
	FunctionDesc  lipgloss.Color // Описание вызываемой функции

	Spinner lipgloss.Color
	Border  lipgloss.Color // Границы и разделители
}

// ColorSchemes предоставляет предустановленные цветовые схемы.
var ColorSchemes = map[string]ColorScheme{
	"default": {
		StatusBackground: lipgloss.Color("235"),
		StatusForeground: lipgloss.Color("252"),
		SystemMessage:    lipgloss.Color("242"),
		UserMessage:      lipgloss.Color("226"),
		AIMessage:        lipgloss.Color("86"),
		ErrorMessage:     lipgloss.Color("196"),
		FunctionCall:     lipgloss.Color("228"),
		FunctionDesc:     lipgloss.Color("245"),
		Spinner:          lipgloss.Color("86"),
		Border:           lipgloss.Color("240"),
	},
	"dark": {
		StatusBackground: lipgloss.Color("0"),
		StatusForeground: lipgloss.Color("15"),
		SystemMessage:    lipgloss.Color("8"),
		UserMessage:      lipgloss.Color("11"),
		AIMessage:        lipgloss.Color("14"),
		ErrorMessage:     lipgloss.Color("9"),
		FunctionCall:     lipgloss.Color("11"),
		FunctionDesc:     lipgloss.Color("7"),
		Spinner:          lipgloss.Color("14"),
		Border:           lipgloss.Color("4"),
	},
	"light": {
		StatusBackground: lipgloss.Color("255"),
		StatusForeground: lipgloss.Color("0"),
		SystemMessage:    lipgloss.Color("8"),
		UserMessage:      lipgloss.Color("130"),
		AIMessage:        lipgloss.Color("31"),
		ErrorMessage:     lipgloss.Color("1"),
		FunctionCall:     lipgloss.Color("94"),
		FunctionDesc:     lipgloss.Color("245"),
		Spinner:          lipgloss.Color("31"),
		Border:           lipgloss.Color("8"),
	},
}

// DefaultColorScheme возвращает схему по умолчанию.
func DefaultColorScheme() ColorScheme {
	return ColorSchemes["default"]
}

// GetColorScheme возвращает цветовую схему по имени.
//
// Если схема не найдена, возвращает default.
func GetColorScheme(name string) ColorScheme {
	if scheme, ok := ColorSchemes[name]; ok {
		return scheme
	}
	return DefaultColorScheme()
}

// styles - готовые lipgloss стили схемы.
type styles struct {
	system, user, ai, err, call, desc, status, border lipgloss.Style
}

func newStyles(c ColorScheme) styles {
	return styles{
		system: lipgloss.NewStyle().Foreground(c.SystemMessage),
		user:   lipgloss.NewStyle().Foreground(c.UserMessage).Bold(true),
		ai:     lipgloss.NewStyle().Foreground(c.AIMessage),
		err:    lipgloss.NewStyle().Foreground(c.ErrorMessage).Bold(true),
		call:   lipgloss.NewStyle().Foreground(c.FunctionCall),
		desc:   lipgloss.NewStyle().Foreground(c.FunctionDesc).Italic(true),
		status: lipgloss.NewStyle().
			Foreground(c.StatusForeground).
			Background(c.StatusBackground).
			Padding(0, 1),
		border: lipgloss.NewStyle().Foreground(c.Border),
	}
}

package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/muesli/reflow/wrap"
)

// chatLog - лента чата поверх viewport.
//
// Хранит исходные строки без переносов: при изменении ширины переносы
// пересчитываются заново. Последнюю запись можно дописывать (стриминг).
type chatLog struct {
	viewport viewport.Model
	entries  []string
	open     bool // последняя запись ещё дописывается
}

func newChatLog() *chatLog {
	return &chatLog{viewport: viewport.New(0, 0)}
}

// resize меняет размер, сохраняя прилипание к низу ленты.
func (l *chatLog) resize(width, height int) {
	if height < 1 {
		height = 1
	}
	if width < 20 {
		width = 20
	}

	// Положение считаем до смены высоты
	atBottom := l.atBottom()
	l.viewport.Width = width
	l.viewport.Height = height
	l.render(atBottom)
}

// add добавляет новую запись.
func (l *chatLog) add(entry string) {
	atBottom := l.atBottom()
	l.entries = append(l.entries, entry)
	l.open = false
	l.render(atBottom)
}

// stream дописывает фрагмент к открытой записи или открывает новую с prefix.
func (l *chatLog) stream(prefix, chunk string) {
	atBottom := l.atBottom()
	if !l.open || len(l.entries) == 0 {
		l.entries = append(l.entries, prefix)
		l.open = true
	}
	l.entries[len(l.entries)-1] += chunk
	l.render(atBottom)
}

// closeStream закрывает запись. replace (если не пуст) заменяет её текст
// авторитетной версией: часть фрагментов могла потеряться.
func (l *chatLog) closeStream(replace string) bool {
	if !l.open {
		return false
	}
	l.open = false
	if replace != "" {
		l.entries[len(l.entries)-1] = replace
		l.render(l.atBottom())
	}
	return true
}

func (l *chatLog) atBottom() bool {
	return l.viewport.YOffset+l.viewport.Height >= l.viewport.TotalLineCount()
}

func (l *chatLog) render(stickToBottom bool) {
	width := l.viewport.Width
	lines := make([]string, 0, len(l.entries))
	for _, e := range l.entries {
		if width > 0 {
			e = wrap.String(e, width)
		}
		lines = append(lines, e)
	}
	l.viewport.SetContent(strings.Join(lines, "\n"))

	if stickToBottom {
		l.viewport.GotoBottom()
		return
	}
	maxOffset := l.viewport.TotalLineCount() - l.viewport.Height
	if maxOffset < 0 {
		maxOffset = 0
	}
	if l.viewport.YOffset > maxOffset {
		l.viewport.SetYOffset(maxOffset)
	}
}

// text возвращает ленту без стилей (для тестов и сохранения).
func (l *chatLog) text() string {
	return stripANSI(strings.Join(l.entries, "\n"))
}

// stripANSI удаляет ANSI escape последовательности.
func stripANSI(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != 0x1B {
			b.WriteByte(s[i])
			continue
		}
		// ESC [ ... финальный байт из диапазона @..~
		i++
		if i < len(s) && s[i] == '[' {
			i++
		}
		for i < len(s) && (s[i] < '@' || s[i] > '~') {
			i++
		}
	}
	return b.String()
}

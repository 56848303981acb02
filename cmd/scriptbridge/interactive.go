package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/script-bridge/luaengine"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	printStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD580"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const (
	prompt   = "lua> "
	maxLines = 500
	tickRate = 50 * time.Millisecond
)

type replModel struct {
	eng     *luaengine.Engine
	input   textinput.Model
	lines   []string
	history []string
	histIdx int
	height  int
}

type tickMsg struct{}

func tick() tea.Cmd {
	return tea.Tick(tickRate, func(time.Time) tea.Msg { return tickMsg{} })
}

func newReplModel(eng *luaengine.Engine) *replModel {
	ti := textinput.New()
	ti.Prompt = promptStyle.Render(prompt)
	ti.Placeholder = "std.Clock.now()"
	ti.Width = 80
	ti.Focus()

	m := &replModel{eng: eng, input: ti, height: 24}
	eng.SetPrinter(func(level zapcore.Level, msg string) {
		style := printStyle
		switch {
		case level >= zapcore.ErrorLevel:
			style = errorStyle
		case level == zapcore.WarnLevel:
			style = warnStyle
		}
		m.appendLine(style.Render(msg))
	})
	return m
}

func (m *replModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tick())
}

func (m *replModel) appendLine(s string) {
	m.lines = append(m.lines, strings.Split(s, "\n")...)
	if over := len(m.lines) - maxLines; over > 0 {
		m.lines = m.lines[over:]
	}
}

func (m *replModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			return m, tea.Quit

		case "enter":
			m.eval(m.input.Value())
			m.input.SetValue("")
			return m, nil

		case "up":
			if m.histIdx > 0 {
				m.histIdx--
				m.input.SetValue(m.history[m.histIdx])
				m.input.CursorEnd()
			}
			return m, nil

		case "down":
			if m.histIdx < len(m.history)-1 {
				m.histIdx++
				m.input.SetValue(m.history[m.histIdx])
				m.input.CursorEnd()
			} else {
				m.histIdx = len(m.history)
				m.input.SetValue("")
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.height = msg.Height
		m.input.Width = msg.Width - len(prompt) - 1

	case tickMsg:
		m.eng.Tick()
		return m, tick()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *replModel) eval(src string) {
	src = strings.TrimSpace(src)
	if src == "" {
		return
	}
	m.history = append(m.history, src)
	m.histIdx = len(m.history)
	m.appendLine(promptStyle.Render(prompt) + src)

	out, err := m.eng.Eval(context.Background(), src)
	if err != nil {
		m.appendLine(errorStyle.Render(fmt.Sprintf("Error: %v", err)))
		return
	}
	if len(out) > 0 {
		m.appendLine(resultStyle.Render(strings.Join(out, "\t")))
	}
}

func (m *replModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Script Bridge"))
	b.WriteString(" ")
	b.WriteString(helpStyle.Render("Lua REPL"))
	b.WriteString("\n\n")

	visible := max(m.height-5, 1)
	start := max(len(m.lines)-visible, 0)
	for _, l := range m.lines[start:] {
		b.WriteString(l)
		b.WriteString("\n")
	}

	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter run • ↑/↓ history • ctrl+c quit"))
	return b.String()
}

func runInteractive(eng *luaengine.Engine) error {
	p := tea.NewProgram(newReplModel(eng), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// runLines is the REPL for non-terminal input: one chunk per line, results
// and output written to w.
func runLines(ctx context.Context, eng *luaengine.Engine, r io.Reader, w io.Writer) error {
	eng.SetPrinter(func(_ zapcore.Level, msg string) {
		fmt.Fprintln(w, msg)
	})
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		src := strings.TrimSpace(sc.Text())
		if src == "" {
			continue
		}
		out, err := eng.Eval(ctx, src)
		if err != nil {
			fmt.Fprintf(w, "Error: %v\n", err)
		} else if len(out) > 0 {
			fmt.Fprintln(w, strings.Join(out, "\t"))
		}
		eng.Tick()
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return drain(ctx, eng)
}

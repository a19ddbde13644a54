package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/mtstate/states"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type interactiveModel struct {
	err      error
	env      *environment
	result   string
	infos    []states.Info
	input    textinput.Model
	selected int
	state    modelState
	started  time.Time
}

type modelState int

const (
	stateSelect modelState = iota
	stateInputArgs
	stateRunning
	stateShowResult
)

func newInteractiveModel(env *environment) *interactiveModel {
	ti := textinput.New()
	ti.Placeholder = "1 2.5 true text"
	ti.Prompt = "args: "
	ti.Width = 40
	return &interactiveModel{
		env:   env,
		infos: env.reg.States(),
		input: ti,
		state: stateSelect,
	}
}

type callResultMsg struct {
	err    error
	result string
}

func (m *interactiveModel) Init() tea.Cmd {
	return nil
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateInputArgs {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelect && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelect && m.selected < len(m.infos)-1 {
				m.selected++
			}

		case "r":
			if m.state == stateSelect {
				m.infos = m.env.reg.States()
				if m.selected >= len(m.infos) {
					m.selected = max(len(m.infos)-1, 0)
				}
			}

		case "x":
			if m.state == stateRunning {
				m.interrupt()
			}

		case "enter":
			switch m.state {
			case stateSelect:
				if len(m.infos) == 0 {
					return m, nil
				}
				m.input.SetValue("")
				m.input.Focus()
				m.state = stateInputArgs
				return m, textinput.Blink

			case stateInputArgs:
				m.input.Blur()
				m.state = stateRunning
				m.started = time.Now()
				return m, m.call(m.input.Value())

			case stateShowResult:
				m.state = stateSelect
				m.result = ""
				m.err = nil
				m.infos = m.env.reg.States()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.input.Blur()
				m.state = stateSelect
			case stateShowResult:
				m.state = stateSelect
				m.result = ""
				m.err = nil
			}
		}

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *interactiveModel) target() states.Info {
	return m.infos[m.selected]
}

// call runs the entry point of the selected state in the background so
// that the UI can interrupt it.
func (m *interactiveModel) call(line string) tea.Cmd {
	info := m.target()
	args := parseArgs(strings.Fields(line))
	return func() tea.Msg {
		ctx := context.Background()
		h, err := m.env.reg.FindByID(ctx, info.ID, false)
		if err != nil {
			return callResultMsg{err: err}
		}
		defer h.Release()
		start := time.Now()
		out, err := h.Call(ctx, args...)
		if err != nil {
			return callResultMsg{err: err}
		}
		return callResultMsg{result: fmt.Sprintf("%s\n\n%s", formatValues(out), time.Since(start).Round(time.Microsecond))}
	}
}

func (m *interactiveModel) interrupt() {
	h, err := m.env.reg.FindByID(context.Background(), m.target().ID, false)
	if err != nil {
		m.err = err
		return
	}
	defer h.Release()
	if err := h.Interrupt(true); err != nil {
		m.err = err
	}
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("State Runner"))
	b.WriteString(fmt.Sprintf(" generation %d\n\n", m.env.reg.GenerationID()))

	switch m.state {
	case stateSelect:
		if len(m.infos) == 0 {
			b.WriteString("No states.\n\n")
			b.WriteString(helpStyle.Render("r refresh • q quit"))
			break
		}
		b.WriteString("Select a state to call:\n\n")
		for i, info := range m.infos {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + formatInfo(info)))
			} else {
				b.WriteString("  " + formatInfo(info))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • r refresh • q quit"))

	case stateInputArgs:
		b.WriteString(fmt.Sprintf("Calling %s\n\n", nameStyle.Render(displayName(m.target()))))
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter call • esc back"))

	case stateRunning:
		b.WriteString(fmt.Sprintf("Running %s since %s\n\n", nameStyle.Render(displayName(m.target())), m.started.Format(time.TimeOnly)))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
			b.WriteString("\n\n")
		}
		b.WriteString(helpStyle.Render("x interrupt • ctrl+c quit"))

	case stateShowResult:
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", nameStyle.Render(displayName(m.target()))))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func displayName(info states.Info) string {
	if info.Name != "" {
		return info.Name
	}
	return fmt.Sprintf("state %d", info.ID)
}

func formatInfo(info states.Info) string {
	status := ""
	if info.Closed {
		status = errorStyle.Render(" closed")
	}
	return nameStyle.Render(displayName(info)) +
		infoStyle.Render(fmt.Sprintf(" [%s] id=%d owned=%d", info.Engine, info.ID, info.Owned)) + status
}

func runInteractive(env *environment) error {
	p := tea.NewProgram(newInteractiveModel(env), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

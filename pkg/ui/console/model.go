package console

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type entryKind int

const (
	entryInput entryKind = iota
	entryResult
	entryError
)

type entry struct {
	kind   entryKind
	input  string
	result Result
	err    string
}

type previewResultMsg struct {
	result Result
	err    error
}

type model struct {
	ctx       context.Context
	previewFn PreviewFunc
	info      Info

	theme     theme
	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	entries   []entry
	width     int
	height    int
	isReady   bool
	isLoading bool
	lastErr   string
	followLog bool
	previews  int
	packets   int
}

func newModel(ctx context.Context, previewFn PreviewFunc, info Info) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = `text, or a JSON segment list such as [{"type":"text","data":{"text":"hi"}}]`
	in.Focus()
	in.CharLimit = 0

	vp := viewport.New(80, 12)

	return &model{
		ctx:       ctx,
		previewFn: previewFn,
		info:      info,
		theme:     defaultTheme(),
		spinner:   spin,
		input:     in,
		viewport:  vp,
		width:     100,
		height:    28,
		followLog: true,
	}
}

func (m *model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case tea.MouseMsg:
		m.handleViewportMouse(typed)
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}

		if handled := m.handleViewportKey(typed); handled {
			return m, nil
		}

		if typed.String() == "enter" {
			if m.isLoading {
				return m, nil
			}

			input := strings.TrimSpace(m.input.Value())
			if input == "" {
				return m, nil
			}
			if isExitCommand(input) {
				return m, tea.Quit
			}

			m.lastErr = ""
			m.entries = append(m.entries, entry{kind: entryInput, input: input})
			m.input.SetValue("")
			m.isLoading = true
			m.followLog = true
			m.refreshViewport(true)
			return m, tea.Batch(m.spinner.Tick, previewCmd(m.ctx, m.previewFn, input))
		}
	}

	m.input, cmd = m.input.Update(msg)

	switch typed := msg.(type) {
	case spinner.TickMsg:
		if !m.isLoading {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case previewResultMsg:
		m.isLoading = false
		if typed.err != nil {
			m.lastErr = typed.err.Error()
			m.entries = append(m.entries, entry{kind: entryError, err: typed.err.Error()})
		} else {
			m.previews++
			m.packets += len(typed.result.Packets)
			m.entries = append(m.entries, entry{kind: entryResult, result: typed.result})
		}
		m.refreshViewport(false)
	}

	return m, cmd
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}

	header := m.theme.header.Width(m.width - 2).Render("QQBot Compose Console")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"account:%s · kind:%s · mode:%s · previews:%d · packets:%d",
		displayOrNA(m.info.AccountID),
		displayOrNA(m.info.Kind),
		displayOrNA(m.info.Mode),
		m.previews,
		m.packets,
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	status := m.theme.status.Render("Enter compose  ·  PgUp/PgDn scroll  ·  End jump latest  ·  Ctrl+C/Esc quit")
	if m.isLoading {
		status = m.theme.statusBusy.Render(fmt.Sprintf("%s composing...", m.spinner.View()))
	}
	if m.lastErr != "" {
		status = m.theme.statusErr.Render("last compose failed")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		line,
		m.theme.viewport.Width(m.width-2).Render(m.viewport.View()),
		status,
		m.theme.inputLabel.Render("Message")+" "+m.theme.hint.Render("(type exit, quit, or :q)"),
		m.theme.input.Width(m.width-2).Render(m.input.View()),
	)
}

func (m *model) resizeComponents() {
	w := max(50, m.width-6)
	h := max(8, m.height-10)

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset
	sections := make([]string, 0, len(m.entries))
	for _, item := range m.entries {
		sections = append(sections, m.renderEntry(item))
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := max(0, m.viewport.TotalLineCount()-m.viewport.Height)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

func (m *model) renderEntry(item entry) string {
	switch item.kind {
	case entryInput:
		return m.renderCard(
			m.theme.inputTitle.Render("INPUT"),
			m.theme.inputBox.Width(m.viewport.Width).Render(item.input),
		)
	case entryError:
		return m.renderCard(
			m.theme.errorTitle.Render("ERROR"),
			m.theme.errorBox.Width(m.viewport.Width).Render(item.err),
		)
	}

	var body []string
	if len(item.result.Packets) == 0 {
		body = append(body, m.theme.hint.Render("nothing to send"))
	}
	for i, packet := range item.result.Packets {
		body = append(body, m.theme.hint.Render(fmt.Sprintf("packet %d", i+1)))
		for _, el := range packet {
			tag, summary := describeElement(el)
			body = append(body, m.theme.elementTitle.Render(tag)+" "+summary)
		}
	}
	for _, err := range item.result.Errors {
		body = append(body, m.theme.statusErr.Render(err))
	}
	return m.renderCard(
		m.theme.packetTitle.Render(fmt.Sprintf("PACKETS (%d)", len(item.result.Packets))),
		m.theme.packetBox.Width(m.viewport.Width).Render(strings.Join(body, "\n")),
	)
}

func (m *model) renderCard(title string, body string) string {
	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}
	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.ScrollUp(3)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.ScrollDown(3)
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	default:
		return false
	}
}

func previewCmd(ctx context.Context, previewFn PreviewFunc, input string) tea.Cmd {
	return func() tea.Msg {
		result, err := previewFn(ctx, input)
		return previewResultMsg{result: result, err: err}
	}
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}

	return trimmed
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}

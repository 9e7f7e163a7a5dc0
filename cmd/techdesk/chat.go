// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/techdesk-dev/techdesk/internal/server"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive support session against a running server",
		Long:  "Open a terminal chat that keeps the thread across turns, so confirmation answers reach the pending request.",
		RunE:  runChat,
	}
	addClientFlags(cmd)
	return cmd
}

func runChat(cmd *cobra.Command, _ []string) error {
	email, _ := cmd.Flags().GetString("email")
	thread, _ := cmd.Flags().GetString("thread")

	m := newChatModel(cmd.Context(), clientFromFlags(cmd), email, thread)
	_, err := tea.NewProgram(m,
		tea.WithAltScreen(),
		tea.WithContext(cmd.Context()),
		tea.WithInput(cmd.InOrStdin()),
		tea.WithOutput(cmd.OutOrStdout()),
	).Run()
	return err
}

// turnSender is the part of supportClient the chat model needs.
type turnSender interface {
	Send(ctx context.Context, req server.SupportRequestBody) (server.SupportResponseBody, error)
}

// --- bubbletea messages ---

type (
	replyMsg    struct{ resp server.SupportResponseBody }
	replyErrMsg struct{ err error }
)

// --- lipgloss styles ---

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	userStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	deskStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

const chatChrome = 5 // title, status and input lines around the viewport

type chatModel struct {
	ctx      context.Context
	client   turnSender
	email    string
	threadID string
	status   string

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	entries  []string
	waiting  bool
	width    int
}

func newChatModel(ctx context.Context, client turnSender, email, threadID string) chatModel {
	in := textinput.New()
	in.Placeholder = "Describe tu solicitud o responde sí / no"
	in.CharLimit = 8000
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return chatModel{
		ctx:      ctx,
		client:   client,
		email:    email,
		threadID: threadID,
		input:    in,
		viewport: viewport.New(80, 20),
		spinner:  sp,
		width:    80,
	}
}

func (m chatModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-chatChrome, 3)
		m.input.Width = max(msg.Width-4, 10)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case replyMsg:
		m.waiting = false
		m.threadID = msg.resp.ThreadID
		m.status = msg.resp.RunStatus
		m.add(deskStyle.Render("TechDesk: ") + msg.resp.Response)
		return m, nil

	case replyErrMsg:
		m.waiting = false
		m.add(errorStyle.Render("error: " + msg.err.Error()))
		return m, nil

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m chatModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return m, tea.Quit
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	case tea.KeyEnter:
		text := strings.TrimSpace(m.input.Value())
		if text == "" || m.waiting {
			return m, nil
		}
		m.input.SetValue("")
		m.waiting = true
		m.add(userStyle.Render("Tú: ") + text)
		return m, tea.Batch(m.spinner.Tick, m.sendTurn(text))
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// sendTurn captures the thread id at send time so a reply always answers
// the conversation it was typed in.
func (m chatModel) sendTurn(text string) tea.Cmd {
	ctx, client := m.ctx, m.client
	req := server.SupportRequestBody{UserRequest: text, UserEmail: m.email, ThreadID: m.threadID}
	return func() tea.Msg {
		resp, err := client.Send(ctx, req)
		if err != nil {
			return replyErrMsg{err: err}
		}
		return replyMsg{resp: resp}
	}
}

func (m *chatModel) add(entry string) {
	m.entries = append(m.entries, entry)
	m.refresh()
}

func (m *chatModel) refresh() {
	wrap := lipgloss.NewStyle().Width(max(m.width-2, 10))
	rendered := make([]string, len(m.entries))
	for i, e := range m.entries {
		rendered[i] = wrap.Render(e)
	}
	m.viewport.SetContent(strings.Join(rendered, "\n\n"))
	m.viewport.GotoBottom()
}

func (m chatModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("TechDesk"))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	thread := m.threadID
	if thread == "" {
		thread = "nuevo"
	}
	status := fmt.Sprintf("hilo: %s", thread)
	if m.status != "" {
		status += "  estado: " + m.status
	}
	if m.waiting {
		status = m.spinner.View() + " pensando…  " + status
	}
	b.WriteString(dimStyle.Render(status))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("enter enviar · esc salir"))
	return b.String()
}

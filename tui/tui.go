// Package tui implements the interactive terminal UI using Bubble Tea.
// It drives the same broker API as the command-line interface.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yllada/vpn-broker/broker"
	"github.com/yllada/vpn-broker/common"
	"github.com/yllada/vpn-broker/session"
)

// state represents the current screen.
type state int

const (
	stateProfiles state = iota
	stateAuth
	stateSession
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	connectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	errorStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

type snapshotMsg session.Session
type errMsg string

// profileItem adapts a registry profile to the list widget.
type profileItem struct {
	id, name, username string
	hasCredential      bool
}

func (i profileItem) Title() string { return i.name }
func (i profileItem) Description() string {
	if i.hasCredential {
		return "credential stored"
	}
	if i.username != "" {
		return "username " + i.username
	}
	return "no stored credential"
}
func (i profileItem) FilterValue() string { return i.name }

// Model holds all UI state.
type Model struct {
	broker *broker.Broker

	st   state
	err  string
	snap session.Session

	profiles list.Model
	spin     spinner.Model
	username textinput.Model
	password textinput.Model

	updates <-chan session.Session
	cancel  func()
}

// New constructs a UI model over an initialized broker.
func New(b *broker.Broker) Model {
	lst := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	lst.Title = "VPN Profiles"

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	username := textinput.New()
	username.Placeholder = "username"
	username.Prompt = "Username: "

	password := textinput.New()
	password.Placeholder = "password"
	password.EchoMode = textinput.EchoPassword
	password.Prompt = "Password: "

	updates, cancel := b.Subscribe()

	m := Model{
		broker:   b,
		st:       stateProfiles,
		profiles: lst,
		spin:     sp,
		username: username,
		password: password,
		updates:  updates,
		cancel:   cancel,
	}
	m.reloadProfiles()
	return m
}

func (m *Model) reloadProfiles() {
	profiles := m.broker.Profiles()
	items := make([]list.Item, 0, len(profiles))
	for _, p := range profiles {
		items = append(items, profileItem{
			id:            p.ID,
			name:          p.Name,
			username:      p.Username,
			hasCredential: m.broker.HasCredential(p.ID),
		})
	}
	m.profiles.SetItems(items)
}

// waitForUpdate re-arms the subscription pump.
func (m Model) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-m.updates
		if !ok {
			return nil
		}
		return snapshotMsg(snap)
	}
}

// Init returns the initial command for the Bubble Tea runtime.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.waitForUpdate())
}

// Update routes messages based on UI state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.profiles.SetSize(msg.Width-4, msg.Height-8)
		return m, nil

	case errMsg:
		m.err = string(msg)
		return m, nil

	case snapshotMsg:
		m.snap = session.Session(msg)
		switch m.snap.State {
		case session.Authenticating:
			m.st = stateAuth
			m.username.Focus()
		case session.Connecting, session.Connected, session.Disconnecting:
			m.st = stateSession
		default:
			m.st = stateProfiles
			m.reloadProfiles()
			if m.snap.State == session.Error {
				m.err = m.snap.LastError
			}
		}
		return m, m.waitForUpdate()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		m.cancel()
		return m, tea.Quit
	}

	switch m.st {
	case stateProfiles:
		switch msg.String() {
		case "q":
			m.cancel()
			return m, tea.Quit
		case "enter", "c":
			if item, ok := m.profiles.SelectedItem().(profileItem); ok {
				return m, m.connectCmd(item.id)
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.profiles, cmd = m.profiles.Update(msg)
		return m, cmd

	case stateAuth:
		switch msg.Type {
		case tea.KeyEsc:
			return m, m.disconnectCmd()
		case tea.KeyTab, tea.KeyDown, tea.KeyUp:
			if m.username.Focused() {
				m.username.Blur()
				m.password.Focus()
			} else {
				m.password.Blur()
				m.username.Focus()
			}
			return m, nil
		case tea.KeyEnter:
			if m.username.Focused() {
				m.username.Blur()
				m.password.Focus()
				return m, nil
			}
			return m, m.submitCredentialsCmd()
		}
		var cmd tea.Cmd
		if m.username.Focused() {
			m.username, cmd = m.username.Update(msg)
		} else {
			m.password, cmd = m.password.Update(msg)
		}
		return m, cmd

	case stateSession:
		switch msg.String() {
		case "d", "esc":
			return m, m.disconnectCmd()
		case "q":
			m.cancel()
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m Model) connectCmd(profileID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), common.ConnectionTimeout)
		defer cancel()
		if _, err := m.broker.Connect(ctx, profileID); err != nil {
			return errMsg(err.Error())
		}
		return nil
	}
}

func (m Model) submitCredentialsCmd() tea.Cmd {
	username := m.username.Value()
	secret := []byte(m.password.Value())
	return func() tea.Msg {
		if err := m.broker.SupplyCredentials(username, secret); err != nil {
			return errMsg(err.Error())
		}
		return nil
	}
}

func (m Model) disconnectCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), common.StopGracePeriod+common.BackendTimeout)
		defer cancel()
		if err := m.broker.Disconnect(ctx); err != nil {
			return errMsg(err.Error())
		}
		return nil
	}
}

// View renders the current screen.
func (m Model) View() string {
	var b strings.Builder

	switch m.st {
	case stateProfiles:
		b.WriteString(m.profiles.View())
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter/c connect · q quit"))

	case stateAuth:
		b.WriteString(titleStyle.Render("Authentication required"))
		b.WriteString("\n\n")
		b.WriteString(fmt.Sprintf("Profile: %s\n\n", m.snap.ProfileName))
		b.WriteString(m.username.View())
		b.WriteString("\n")
		b.WriteString(m.password.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter submit · tab switch field · esc cancel"))

	case stateSession:
		b.WriteString(titleStyle.Render("Session"))
		b.WriteString("\n\n")
		switch m.snap.State {
		case session.Connected:
			b.WriteString(connectedStyle.Render("● " + m.snap.State.String()))
		default:
			b.WriteString(m.spin.View() + " " + m.snap.State.String())
		}
		b.WriteString("\n")
		b.WriteString(statusStyle.Render(fmt.Sprintf("Profile: %s", m.snap.ProfileName)))
		if m.snap.Stats.BytesIn > 0 || m.snap.Stats.BytesOut > 0 {
			b.WriteString("\n")
			b.WriteString(statusStyle.Render(fmt.Sprintf("RX %d B · TX %d B",
				m.snap.Stats.BytesIn, m.snap.Stats.BytesOut)))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("d disconnect · q quit"))
	}

	if m.err != "" {
		b.WriteString("\n\n")
		b.WriteString(errorStyle.Render("Error: " + m.err))
	}
	b.WriteString("\n")
	return b.String()
}

// Run starts the interactive UI and blocks until it exits.
func Run(b *broker.Broker) error {
	p := tea.NewProgram(New(b), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

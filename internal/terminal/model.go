/**
 * @description
 * Bubble Tea model of the terminal checkout. It drives a single workspace:
 * enter starts the transaction, digits feed the PIN pad and enter again
 * acknowledges a failure alert. The screen is refreshed from the workspace
 * state on a short tick.
 */

package terminal

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/transfa/payflow/internal/app"
	"github.com/transfa/payflow/internal/domain"
	"github.com/transfa/payflow/internal/pinpad"
)

const refreshInterval = 100 * time.Millisecond

// Session is the part of app.Workspace the screen drives.
type Session interface {
	Start(req domain.TransactionRequest) (uuid.UUID, error)
	Key(key string) error
	AckAlert() error
	State() app.WorkspaceState
}

type refreshMsg time.Time

// Model is the terminal checkout screen.
type Model struct {
	session Session
	request domain.TransactionRequest

	state     app.WorkspaceState
	status    string
	statusErr bool
	width     int
}

func New(session Session, req domain.TransactionRequest) Model {
	return Model{session: session, request: req, state: session.State()}
}

func (m Model) Init() tea.Cmd {
	return refreshCmd()
}

func refreshCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case refreshMsg:
		m.state = m.session.State()
		return m, refreshCmd()
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		return m.updateKey(msg)
	}
	return m, nil
}

func (m Model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "enter":
		if m.state.Alert != nil {
			m.apply(m.session.AckAlert())
		} else {
			m.start()
		}
	case "backspace":
		m.press(app.KeyDelete)
	case "b":
		m.press(app.KeyBiometric)
	case "esc":
		m.press(app.KeyCancel)
	default:
		if len(key) == 1 && key[0] >= '0' && key[0] <= '9' {
			m.press(key)
		}
	}
	m.state = m.session.State()
	return m, nil
}

func (m *Model) start() {
	id, err := m.session.Start(m.request)
	if err != nil {
		m.apply(err)
		return
	}
	m.status = "Transaction " + id.String()[:8] + " started. Enter your PIN."
	m.statusErr = false
}

func (m *Model) press(key string) {
	err := m.session.Key(key)
	if errors.Is(err, app.ErrNoActiveGate) {
		return
	}
	m.apply(err)
}

func (m *Model) apply(err error) {
	if err == nil {
		m.status = ""
		m.statusErr = false
		return
	}
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		m.status = validationErr.Error()
	case errors.Is(err, domain.ErrBusy):
		m.status = "A transaction is already in progress."
	default:
		m.status = err.Error()
	}
	m.statusErr = true
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("payflow checkout"))
	b.WriteString("\n\n")
	b.WriteString(m.renderRequest())
	b.WriteString("\n\n")
	b.WriteString(m.renderBanner())
	b.WriteString("\n")

	if pad := m.state.PinPad; pad != nil {
		b.WriteString("\n")
		b.WriteString(renderPad(*pad))
		b.WriteString("\n")
	}
	if alert := m.state.Alert; alert != nil {
		b.WriteString("\n")
		b.WriteString(alertStyle.Render(alertTitleStyle.Render(alert.Title) + "\n" + alert.Message + "\n\n" + helpStyle.Render("enter to dismiss")))
		b.WriteString("\n")
	}
	if len(m.state.Toasts) > 0 {
		b.WriteString("\n")
		for _, t := range m.state.Toasts {
			b.WriteString(lipgloss.NewStyle().Foreground(toastColor(t.Kind)).Render("▍ " + t.Message))
			b.WriteString("\n")
		}
	}
	if r := m.state.LastReceipt; r != nil {
		b.WriteString("\n")
		b.WriteString(labelStyle.Render("receipt  ") + valueStyle.Render(fmt.Sprintf("%s  %s  fee %s", r.Reference, r.Status, domain.FormatAmount(r.Fee))))
		b.WriteString("\n")
	}
	if nav := m.state.Navigation; nav != nil {
		b.WriteString(labelStyle.Render("next     ") + valueStyle.Render(nav.Destination))
		b.WriteString("\n")
	}
	if m.status != "" {
		b.WriteString("\n")
		if m.statusErr {
			b.WriteString(errorTextStyle.Render(m.status))
		} else {
			b.WriteString(valueStyle.Render(m.status))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.help()))
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderRequest() string {
	lines := []string{
		labelStyle.Render("type       ") + valueStyle.Render(m.request.Kind.Label()),
		labelStyle.Render("amount     ") + valueStyle.Render(domain.FormatAmount(m.request.Amount)),
		labelStyle.Render("recipient  ") + valueStyle.Render(m.request.Recipient),
	}
	if m.request.Description != "" {
		lines = append(lines, labelStyle.Render("note       ")+valueStyle.Render(m.request.Description))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderBanner() string {
	message := m.state.Message
	if message == "" {
		message = "Ready"
	}
	return bannerStyle.Background(phaseColor(m.state.Phase)).Render(strings.ToUpper(m.state.Phase.String()) + "  " + message)
}

func renderPad(pad pinpad.Snapshot) string {
	dots := make([]string, 0, pad.Length)
	for i := 0; i < pad.Length; i++ {
		if i < pad.Entered {
			dots = append(dots, dotFilled)
		} else {
			dots = append(dots, dotEmpty)
		}
	}
	body := "Enter transaction PIN\n\n" + strings.Join(dots, " ")
	if pad.ErrorMessage != "" {
		body += "\n\n" + errorTextStyle.Render(pad.ErrorMessage)
		if pad.MaxAttempts > 0 && !pad.Locked {
			body += labelStyle.Render(fmt.Sprintf(" (%d of %d attempts left)", pad.MaxAttempts-pad.Attempts, pad.MaxAttempts))
		}
	}
	return padStyle.Render(body)
}

func (m Model) help() string {
	switch {
	case m.state.Alert != nil:
		return "enter dismiss • q quit"
	case m.state.PinPad != nil:
		help := "0-9 pin • backspace delete • esc cancel"
		if m.state.PinPad.AllowBiometric {
			help += " • b biometric"
		}
		return help + " • q quit"
	case m.state.Busy:
		return "q quit"
	default:
		return "enter pay • q quit"
	}
}

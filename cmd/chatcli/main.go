// Command chatcli is a small terminal client for the chat coach endpoint.
// It streams the relay's server-sent events into the transcript as they
// arrive, mirroring what the web widget does.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	userStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	coachStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	hintStyle  = lipgloss.NewStyle().Faint(true)
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "service base URL")
	userID := flag.String("user", "", "user identity sent as X-User-Id")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "chatcli: -user is required")
		os.Exit(1)
	}

	m := newModel(strings.TrimRight(*baseURL, "/"), *userID)
	if _, err := tea.NewProgram(m).Run(); err != nil {
		fmt.Fprintln(os.Stderr, "chatcli:", err)
		os.Exit(1)
	}
}

// Messages delivered from the stream goroutine.
type deltaMsg string

type doneMsg struct {
	conversationID string
}

type streamErrMsg struct {
	err error
}

type model struct {
	baseURL string
	userID  string

	input          textinput.Model
	transcript     []string
	partial        string // assistant text accumulated for the in-flight reply
	conversationID string
	streaming      bool
	events         chan tea.Msg
}

func newModel(baseURL, userID string) model {
	ti := textinput.New()
	ti.Placeholder = "Ask your coach..."
	ti.Focus()
	return model{
		baseURL: baseURL,
		userID:  userID,
		input:   ti,
	}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			question := strings.TrimSpace(m.input.Value())
			// Send is disabled while a request is in flight.
			if question == "" || m.streaming {
				return m, nil
			}
			m.transcript = append(m.transcript, userStyle.Render("you: ")+question)
			m.input.Reset()
			m.streaming = true
			m.partial = ""
			m.events = make(chan tea.Msg, 32)
			return m, tea.Batch(m.startStream(question), m.awaitEvent())
		}

	case deltaMsg:
		m.partial += string(msg)
		return m, m.awaitEvent()

	case doneMsg:
		m.transcript = append(m.transcript, coachStyle.Render("coach: ")+m.partial)
		m.partial = ""
		m.conversationID = msg.conversationID
		m.streaming = false
		return m, nil

	case streamErrMsg:
		// Roll back the partial reply; the exchange failed as a whole.
		m.partial = ""
		m.streaming = false
		m.transcript = append(m.transcript, errStyle.Render("error: ")+msg.err.Error())
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) View() string {
	var b strings.Builder
	for _, line := range m.transcript {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if m.streaming {
		b.WriteString(coachStyle.Render("coach: ") + m.partial)
		b.WriteString("\n")
	}
	b.WriteString("\n" + m.input.View() + "\n")
	b.WriteString(hintStyle.Render("enter to send, esc to quit"))
	return b.String()
}

// awaitEvent pulls the next stream message off the channel.
func (m model) awaitEvent() tea.Cmd {
	ch := m.events
	return func() tea.Msg {
		return <-ch
	}
}

type chatPayload struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversationId,omitempty"`
}

type deltaFrame struct {
	Delta string `json:"delta"`
}

type doneFrame struct {
	ConversationID string `json:"conversationId"`
}

type errorFrame struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// startStream opens the chat request and pumps relay frames into the events
// channel from a goroutine.
func (m model) startStream(question string) tea.Cmd {
	ch := m.events
	baseURL, userID, conversationID := m.baseURL, m.userID, m.conversationID
	return func() tea.Msg {
		go func() {
			body, err := json.Marshal(chatPayload{Question: question, ConversationID: conversationID})
			if err != nil {
				ch <- streamErrMsg{err: err}
				return
			}

			req, err := http.NewRequest(http.MethodPost, baseURL+"/api/chat", bytes.NewReader(body))
			if err != nil {
				ch <- streamErrMsg{err: err}
				return
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-User-Id", userID)

			res, err := http.DefaultClient.Do(req)
			if err != nil {
				ch <- streamErrMsg{err: err}
				return
			}
			defer res.Body.Close()

			if res.StatusCode != http.StatusOK {
				var frame errorFrame
				if err := json.NewDecoder(res.Body).Decode(&frame); err == nil && frame.Error != "" {
					ch <- streamErrMsg{err: fmt.Errorf("%s (%s)", frame.Error, frame.Reason)}
					return
				}
				ch <- streamErrMsg{err: fmt.Errorf("unexpected status %d", res.StatusCode)}
				return
			}

			readRelay(res.Body, ch)
		}()
		return nil
	}
}

// readRelay parses the service's SSE frames and forwards them as messages.
func readRelay(body io.Reader, ch chan<- tea.Msg) {
	scanner := bufio.NewScanner(body)
	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			event = ""
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}
			switch event {
			case "done":
				var frame doneFrame
				if err := json.Unmarshal([]byte(data), &frame); err == nil {
					ch <- doneMsg{conversationID: frame.ConversationID}
				}
				return
			case "error":
				var frame errorFrame
				if err := json.Unmarshal([]byte(data), &frame); err == nil {
					ch <- streamErrMsg{err: fmt.Errorf("%s (%s)", frame.Error, frame.Reason)}
					return
				}
				ch <- streamErrMsg{err: fmt.Errorf("stream failed")}
				return
			default:
				var frame deltaFrame
				if err := json.Unmarshal([]byte(data), &frame); err == nil && frame.Delta != "" {
					ch <- deltaMsg(frame.Delta)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		ch <- streamErrMsg{err: err}
		return
	}
	ch <- streamErrMsg{err: fmt.Errorf("stream closed before completion")}
}

package gsm

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// fakeModem is an in-memory Port that behaves like a text-mode GSM modem:
// commands written to it append responses to an internal read buffer, and
// it keeps a stored-message inbox that AT+CMGL/AT+CMGD operate on.
type fakeModem struct {
	mu       sync.Mutex
	inbox    []fakeSMS
	readBuf  bytes.Buffer
	sent     []string
	commands []string

	failWrites   bool
	failReads    bool
	sendResponse string
	awaitingBody bool

	listCalls int
	// onList is invoked after each AT+CMGL, before the listing is
	// generated, so tests can make a reply "arrive" on a later poll.
	onList func(m *fakeModem, call int)
}

type fakeSMS struct {
	index int
	body  string
}

func newFakeModem() *fakeModem {
	return &fakeModem{sendResponse: "\r\n+CMGS: 12\r\n\r\nOK\r\n"}
}

func (m *fakeModem) deliver(index int, body string) {
	m.inbox = append(m.inbox, fakeSMS{index: index, body: body})
}

func (m *fakeModem) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWrites {
		return 0, errors.New("serial write: device gone")
	}

	s := string(p)
	if m.awaitingBody && strings.HasSuffix(s, "\x1a") {
		m.awaitingBody = false
		m.sent = append(m.sent, strings.TrimSuffix(s, "\x1a"))
		m.readBuf.WriteString(m.sendResponse)
		return len(p), nil
	}

	cmd := strings.TrimSuffix(s, "\r")
	m.commands = append(m.commands, cmd)
	switch {
	case cmd == "AT", cmd == "AT+CMGF=1", cmd == "AT+CNMI=2,1,0,0,0":
		m.readBuf.WriteString("\r\nOK\r\n")
	case cmd == "AT+CMGD=1,4":
		m.inbox = nil
		m.readBuf.WriteString("\r\nOK\r\n")
	case strings.HasPrefix(cmd, "AT+CMGS="):
		m.awaitingBody = true
		m.readBuf.WriteString("\r\n> ")
	case cmd == `AT+CMGL="ALL"`:
		m.listCalls++
		if m.onList != nil {
			m.onList(m, m.listCalls)
		}
		for _, sms := range m.inbox {
			fmt.Fprintf(&m.readBuf, "+CMGL: %d,\"REC UNREAD\",\"+15550100\",,\"24/01/01,10:00:00\"\r\n%s\r\n", sms.index, sms.body)
		}
		m.readBuf.WriteString("OK\r\n")
	case strings.HasPrefix(cmd, "AT+CMGD="):
		if index, err := strconv.Atoi(strings.TrimPrefix(cmd, "AT+CMGD=")); err == nil {
			kept := m.inbox[:0]
			for _, sms := range m.inbox {
				if sms.index != index {
					kept = append(kept, sms)
				}
			}
			m.inbox = kept
		}
		m.readBuf.WriteString("\r\nOK\r\n")
	}
	return len(p), nil
}

func (m *fakeModem) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failReads {
		return 0, errors.New("serial read: device gone")
	}
	if m.readBuf.Len() == 0 {
		// Matches serial read-timeout semantics: no data, no error.
		return 0, nil
	}
	return m.readBuf.Read(p)
}

func (m *fakeModem) Close() error { return nil }

func (m *fakeModem) SetReadTimeout(time.Duration) error { return nil }

func (m *fakeModem) sentMessages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

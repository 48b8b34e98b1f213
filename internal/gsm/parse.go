package gsm

import (
	"strconv"
	"strings"

	"github.com/farmguard/farmguard/internal/domain"
)

// inboxMessage is one message recovered from a modem listing. Index is the
// storage slot for +CMGL entries, or -1 for +CMT: pushes, which are not
// individually addressable.
type inboxMessage struct {
	Index int
	Body  string
}

// parseInbox extracts messages from accumulated modem output. A +CMGL: or
// +CMT: header line is followed by the message body on the next non-empty
// line. Everything else is noise and skipped.
func parseInbox(raw string) []inboxMessage {
	lines := strings.Split(raw, "\n")
	var messages []inboxMessage

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])

		var index int
		switch {
		case strings.HasPrefix(line, headerStored):
			index = parseStoredIndex(line)
		case strings.HasPrefix(line, headerPushed):
			index = -1
		default:
			continue
		}

		body, consumed := nextBody(lines[i+1:])
		if consumed == 0 {
			continue
		}
		i += consumed
		messages = append(messages, inboxMessage{Index: index, Body: body})
	}
	return messages
}

// parseStoredIndex pulls the storage slot out of a "+CMGL: <n>,..." header.
// Returns -1 when the header is too mangled to address.
func parseStoredIndex(header string) int {
	rest := strings.TrimSpace(strings.TrimPrefix(header, headerStored))
	if comma := strings.IndexByte(rest, ','); comma >= 0 {
		rest = rest[:comma]
	}
	index, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return -1
	}
	return index
}

// nextBody finds the first non-empty line that is not itself a header or a
// response token. Returns the body and how many lines were consumed.
func nextBody(lines []string) (string, int) {
	for n, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, headerStored) || strings.HasPrefix(trimmed, headerPushed) ||
			trimmed == tokenOK || trimmed == tokenError {
			return "", 0
		}
		return trimmed, n + 1
	}
	return "", 0
}

// classifyBody maps a message body to an operator decision: a leading "1"
// means play, a leading "0" means not play. Any other body is noise.
// There is no sender verification on this channel; any inbound SMS matching
// the convention is accepted as the operator's answer.
func classifyBody(body string) domain.GsmReply {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return domain.GsmReplyNone
	}
	switch trimmed[0] {
	case '1':
		return domain.GsmReplyPlay
	case '0':
		return domain.GsmReplyNotPlay
	}
	return domain.GsmReplyNone
}

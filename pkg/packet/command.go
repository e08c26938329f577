package packet

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// ErrMalformed is returned for a recognised token with invalid arguments
// or a record that does not follow the fixed layout.
var ErrMalformed = errors.New("packet: malformed")

// Kind identifies an inbound command. Declaration order is dispatch priority.
type Kind uint8

const (
	StartCal Kind = iota
	Point
	PowerOff
	StayOn
	Done
	SetClient
	SetDemo
)

func (k Kind) String() string {
	switch k {
	case StartCal:
		return "STARTCAL"
	case Point:
		return "PT"
	case PowerOff:
		return "PWROFF"
	case StayOn:
		return "STAYON"
	case Done:
		return "DONE"
	case SetClient:
		return "CLIENT_PROTO"
	case SetDemo:
		return "DEMO_PROTO"
	default:
		return "UNKNOWN"
	}
}

// Command is one decoded inbound command. N is the point count of StartCal;
// Slot and Value belong to Point.
type Command struct {
	Kind  Kind
	N     int
	Slot  int
	Value float32
}

type token struct {
	word string
	kind Kind
}

// Longest words first so that no keyword shadows another.
var tokens = []token{
	{"CLIENT_PROTO", SetClient},
	{"DEMO_PROTO", SetDemo},
	{"STARTCAL", StartCal},
	{"PWROFF", PowerOff},
	{"STAYON", StayOn},
	{"DONE", Done},
	{"PT", Point},
}

// Parse tokenizes an inbound buffer. Recognised commands are returned in
// priority order; malformed tokens are reported beside them.
func Parse(buf []byte) ([]Command, []error) {
	var cmds []Command
	var errs []error

	for i := 0; i < len(buf); {
		tok, ok := match(buf[i:])
		if !ok {
			i++
			continue
		}

		rest := buf[i+len(tok.word):]
		cmd := Command{Kind: tok.kind}
		used := 0
		var err error

		switch tok.kind {
		case StartCal:
			cmd.N, used, err = parseStartCal(rest)
		case Point:
			cmd.Slot, cmd.Value, used, err = parsePoint(rest)
		}

		if err != nil {
			errs = append(errs, fmt.Errorf("%s at %d: %w", tok.word, i, err))
		} else {
			cmds = append(cmds, cmd)
		}
		i += len(tok.word) + used
	}

	sort.SliceStable(cmds, func(a, b int) bool { return cmds[a].Kind < cmds[b].Kind })
	return cmds, errs
}

func match(b []byte) (token, bool) {
	for _, t := range tokens {
		if bytes.HasPrefix(b, []byte(t.word)) {
			return t, true
		}
	}
	return token{}, false
}

func parseStartCal(rest []byte) (int, int, error) {
	if len(rest) == 0 || rest[0] < '1' || rest[0] > '3' {
		return 0, 0, fmt.Errorf("%w: point count", ErrMalformed)
	}
	return int(rest[0] - '0'), 1, nil
}

func isSeparator(c byte) bool {
	switch c {
	case '_', ' ', ':', '=', ',':
		return true
	}
	return false
}

// parsePoint reads <slot digit>[separator]<3-char value>.
func parsePoint(rest []byte) (slot int, value float32, used int, err error) {
	if len(rest) == 0 || rest[0] < '1' || rest[0] > '3' {
		return 0, 0, 0, fmt.Errorf("%w: point slot", ErrMalformed)
	}
	slot = int(rest[0] - '0')
	used = 1
	if used < len(rest) && isSeparator(rest[used]) {
		used++
	}

	end := used
	for end < len(rest) && end-used < 3 && (rest[end] == '.' || (rest[end] >= '0' && rest[end] <= '9')) {
		end++
	}
	if end == used {
		return 0, 0, used, fmt.Errorf("%w: point value", ErrMalformed)
	}

	v, perr := strconv.ParseFloat(string(rest[used:end]), 32)
	if perr != nil {
		return 0, 0, end, fmt.Errorf("%w: point value %q", ErrMalformed, rest[used:end])
	}
	return slot, float32(v), end, nil
}

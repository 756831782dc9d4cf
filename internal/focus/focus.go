// Package focus reports when the exam view loses focus.
package focus

import (
	"bufio"
	"errors"
	"io"
	"sync"
	"unicode/utf8"
)

// Terminal control sequences for xterm focus reporting.
const (
	EnableReporting  = "\x1b[?1004h"
	DisableReporting = "\x1b[?1004l"
)

// ErrInterrupted is returned by Scan when the user presses Ctrl-C in raw mode.
var ErrInterrupted = errors.New("interrupted")

// Trigger fans a focus-lost signal out to its subscribers.
type Trigger struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func()
}

// NewTrigger returns a Trigger without subscribers.
func NewTrigger() *Trigger {
	return &Trigger{subs: make(map[int]func())}
}

// Subscribe registers cb for focus-lost signals.
func (t *Trigger) Subscribe(cb func()) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.subs[id] = cb
	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// Lost notifies every subscriber, synchronously.
func (t *Trigger) Lost() {
	t.mu.Lock()
	subs := make([]func(), 0, len(t.subs))
	for _, cb := range t.subs {
		subs = append(subs, cb)
	}
	t.mu.Unlock()
	for _, cb := range subs {
		cb()
	}
}

// Scanner splits terminal input into lines and focus events. It expects the
// terminal in raw mode with focus reporting enabled, but works on any reader.
type Scanner struct {
	// Echo receives what the user types; nil disables echo.
	Echo        io.Writer
	OnFocusLost func()
	OnLine      func(string)
}

// ScanTerminal runs a Scanner without echo until r is exhausted.
func ScanTerminal(r io.Reader, onFocusLost func(), onLine func(string)) error {
	return Scanner{OnFocusLost: onFocusLost, OnLine: onLine}.Scan(r)
}

const (
	stateText = iota
	stateEsc
	stateCSI
)

// Scan reads r until EOF, Ctrl-D or Ctrl-C. EOF and Ctrl-D end cleanly; a
// partial line is flushed first.
func (s Scanner) Scan(r io.Reader) error {
	in := bufio.NewReader(r)
	var line []byte
	state := stateText
	lastCR := false

	flush := func() {
		if s.OnLine != nil {
			s.OnLine(string(line))
		}
		line = line[:0]
	}

	for {
		b, err := in.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(line) > 0 {
					flush()
				}
				return nil
			}
			return err
		}

		switch state {
		case stateEsc:
			if b == '[' {
				state = stateCSI
			} else {
				state = stateText
			}
			continue
		case stateCSI:
			// Parameter bytes keep the sequence open; any final byte closes it.
			if b >= 0x30 && b <= 0x3f {
				continue
			}
			state = stateText
			if b == 'O' && s.OnFocusLost != nil {
				s.OnFocusLost()
			}
			continue
		}

		wasCR := lastCR
		lastCR = false
		switch {
		case b == 0x1b:
			state = stateEsc
		case b == 0x03:
			return ErrInterrupted
		case b == 0x04:
			if len(line) > 0 {
				flush()
			}
			return nil
		case b == '\r':
			lastCR = true
			s.echo("\r\n")
			flush()
		case b == '\n':
			if wasCR {
				continue
			}
			s.echo("\r\n")
			flush()
		case b == 0x7f || b == 0x08:
			if len(line) > 0 {
				_, size := utf8.DecodeLastRune(line)
				line = line[:len(line)-size]
				s.echo("\b \b")
			}
		case b < 0x20:
		default:
			line = append(line, b)
			if s.Echo != nil {
				_, _ = s.Echo.Write([]byte{b})
			}
		}
	}
}

func (s Scanner) echo(text string) {
	if s.Echo != nil {
		_, _ = io.WriteString(s.Echo, text)
	}
}

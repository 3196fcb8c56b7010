package relay

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/voicewire/relay/agent"
)

// Chunking thresholds. Speech synthesis wants text as early as possible but
// must not be fed sentence fragments that break prosody.
const (
	markupFlushLen       = 60
	markupSentenceLen    = 30
	markupEagerLen       = 15
	markupSplitLen       = 200
	markupFlushInterval  = 250 * time.Millisecond
	plainFlushTokenCount = 8
	plainFlushInterval   = 60 * time.Millisecond
)

var wordRe = regexp.MustCompile(`[A-Za-z]+`)

// emitFunc delivers one outbound text token. last marks the turn's final
// frame.
type emitFunc func(token string, last bool) error

// chunker buffers orchestrator output tokens and decides, after each token,
// whether to flush a chunk to the transport.
//
// It keeps one chunk in reserve: the first ready chunk goes out immediately
// so audio starts as soon as possible, every later chunk is held one step
// behind, and when the stream ends the held chunk is sent with last=true
// instead of an extra empty terminal frame.
type chunker struct {
	markup bool
	voice  agent.VoiceConfig
	emit   emitFunc

	buf        strings.Builder
	tokenCount int
	lastFlush  time.Time

	reserve    string
	reserveSet bool
	sentAny    bool
	openedRoot bool
}

func newChunker(voice agent.VoiceConfig, emit emitFunc) *chunker {
	return &chunker{
		markup:    voice.MarkupMode(),
		voice:     voice,
		emit:      emit,
		lastFlush: time.Now(),
	}
}

// push buffers one token and flushes if the policy says so.
func (c *chunker) push(token string) error {
	if token == "" {
		return nil
	}
	c.buf.WriteString(token)
	c.tokenCount++
	if c.shouldFlush() {
		return c.flush()
	}
	return nil
}

func (c *chunker) shouldFlush() bool {
	if c.markup {
		buffered := c.buf.String()
		n := utf8.RuneCountInString(buffered)
		hasWord := wordRe.MatchString(buffered)
		switch {
		case n >= markupFlushLen:
			return true
		case n >= markupSentenceLen && endsSentence(buffered) && hasWord:
			return true
		case time.Since(c.lastFlush) > markupFlushInterval && hasWord:
			return true
		case !c.reserveSet && n >= markupEagerLen && hasWord:
			return true
		}
		return false
	}
	return c.tokenCount >= plainFlushTokenCount || time.Since(c.lastFlush) > plainFlushInterval
}

// flush cuts a chunk from the buffer and hands it to the reserve discipline.
func (c *chunker) flush() error {
	candidate := c.buf.String()
	// Markup chunks must carry a speakable word; bare punctuation waits.
	if c.markup && !wordRe.MatchString(candidate) {
		return nil
	}
	chunk, carry := candidate, ""
	if c.markup && (utf8.RuneCountInString(candidate) > markupSplitLen || !endsSentence(candidate)) {
		if idx := lastWhitespace(candidate); idx > 0 {
			chunk, carry = candidate[:idx+1], candidate[idx+1:]
		}
	}
	c.buf.Reset()
	c.buf.WriteString(carry)
	c.tokenCount = 0
	c.lastFlush = time.Now()
	return c.dispatch(chunk)
}

// dispatch applies the one-chunk-in-reserve discipline.
func (c *chunker) dispatch(chunk string) error {
	if !c.sentAny {
		c.sentAny = true
		return c.send(chunk, false)
	}
	if !c.reserveSet {
		c.reserve = chunk
		c.reserveSet = true
		return nil
	}
	previous := c.reserve
	c.reserve = chunk
	return c.send(previous, false)
}

// toolFlush pushes everything out immediately so a status phrase is heard
// before a tool runs. The caller follows with a keep-alive frame.
func (c *chunker) toolFlush() error {
	if c.reserveSet {
		c.reserveSet = false
		if err := c.send(c.reserve, false); err != nil {
			return err
		}
	}
	buffered := c.buf.String()
	if buffered == "" {
		return nil
	}
	if c.markup && !wordRe.MatchString(buffered) {
		// Wordless residue stays buffered and joins the next chunk.
		return nil
	}
	c.buf.Reset()
	c.tokenCount = 0
	c.lastFlush = time.Now()
	c.sentAny = true
	return c.send(buffered, false)
}

// close ends the turn: remaining text and the reserved chunk go out, with the
// final frame marked last=true (closing the markup root when one was
// opened). A turn with no speakable content at all still produces a single
// whitespace frame so the transport sees the turn end.
func (c *chunker) close() error {
	final := c.buf.String()
	c.buf.Reset()

	if c.reserveSet {
		c.reserveSet = false
		if final != "" {
			if err := c.send(c.reserve, false); err != nil {
				return err
			}
			return c.send(final, true)
		}
		return c.send(c.reserve, true)
	}
	if final == "" && !c.sentAny {
		return c.emit(" ", true)
	}
	return c.send(final, true)
}

// send writes one frame, opening the markup root on the first frame and
// closing it on the last.
func (c *chunker) send(text string, last bool) error {
	token := text
	if c.markup {
		if !c.openedRoot {
			token = c.openRoot() + token
			c.openedRoot = true
		}
		if last {
			token += "</prosody></speak>"
		}
	}
	if token == "" && last {
		token = " "
	}
	return c.emit(token, last)
}

func (c *chunker) openRoot() string {
	var attrs []string
	if c.voice.Rate != "" {
		attrs = append(attrs, fmt.Sprintf("rate=%q", c.voice.Rate))
	}
	if c.voice.Pitch != "" {
		attrs = append(attrs, fmt.Sprintf("pitch=%q", c.voice.Pitch))
	}
	if c.voice.Volume != "" {
		attrs = append(attrs, fmt.Sprintf("volume=%q", c.voice.Volume))
	}
	return "<speak><prosody " + strings.Join(attrs, " ") + ">"
}

// endsSentence reports whether s ends at a sentence boundary, ignoring
// trailing whitespace and closing quotes.
func endsSentence(s string) bool {
	trimmed := strings.TrimRight(s, " \t\n\"'”’)")
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

// lastWhitespace returns the byte index of the last whitespace rune in s, or
// -1 when there is none.
func lastWhitespace(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] < utf8.RuneSelf && unicode.IsSpace(rune(s[i])) {
			return i
		}
	}
	return -1
}

package websocket

// Streaming UTF-8 validation, needed because a text message's bytes arrive
// across one or more WebSocket fragments and
// https://datatracker.ietf.org/doc/html/rfc6455#section-8.1 requires failing
// the connection as soon as invalid UTF-8 is detected, not only once the
// whole message has been reassembled. The standard library's [unicode/utf8]
// only validates a complete buffer at once and can't hold state across
// fragment boundaries, and no library in this module's dependency set
// specializes in incremental UTF-8 validation, so this is a direct
// implementation of Bjoern Hoehrmann's well-known byte-oriented UTF-8 DFA
// (https://bjoern.hoehrmann.de/utf8/decoder/dfa/).
const (
	utf8Accept = 0
	utf8Reject = 12
)

// utf8ByteClass maps each possible byte value to one of 12 character classes.
var utf8ByteClass = [256]byte{
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1,
	9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9,
	7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7,
	7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7,
	8, 8, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2,
	2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2,
	10, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 4, 3, 3,
	11, 6, 6, 6, 5, 8, 8, 8, 8, 8, 8, 8, 8, 8, 8, 8,
}

// utf8TransitionTable maps (state, char class) to the next state.
var utf8TransitionTable = [108]byte{
	0, 12, 24, 36, 60, 96, 84, 12, 12, 12, 48, 72,
	12, 12, 12, 12, 12, 12, 12, 12, 12, 12, 12, 12,
	12, 0, 12, 12, 12, 12, 12, 0, 12, 0, 12, 12,
	12, 24, 12, 12, 12, 12, 12, 24, 12, 24, 12, 12,
	12, 12, 12, 12, 12, 12, 12, 24, 12, 12, 12, 12,
	12, 24, 12, 12, 12, 12, 12, 12, 12, 24, 12, 12,
	12, 12, 12, 12, 12, 12, 12, 36, 12, 36, 12, 12,
	12, 36, 12, 12, 12, 12, 12, 36, 12, 36, 12, 12,
	12, 36, 12, 12, 12, 12, 12, 12, 12, 12, 12, 12,
}

// utf8Validator holds the DFA state needed to validate UTF-8 incrementally
// across successive chunks, as they are appended to a fragmented message.
type utf8Validator struct {
	state byte
}

// step feeds one chunk through the DFA. It returns false as soon as the
// chunk (combined with prior chunks) is proven invalid; once it returns
// false, the validator must not be reused.
func (v *utf8Validator) step(b []byte) bool {
	for _, c := range b {
		v.state = utf8TransitionTable[v.state+utf8ByteClass[c]]
		if v.state == utf8Reject {
			return false
		}
	}
	return true
}

// complete reports whether the bytes seen so far form one or more complete
// code points, i.e. there's no truncated multi-byte sequence pending. Call
// this once, after the final chunk of a message has been fed to step.
func (v *utf8Validator) complete() bool {
	return v.state == utf8Accept
}

// validUTF8 returns s unchanged if it is valid UTF-8. Otherwise, it returns
// the longest prefix of s that both decodes to valid UTF-8 and doesn't end
// mid-code-point, discarding a truncated trailing multi-byte sequence. This
// mirrors how RFC 6455 expects implementations to behave when a close
// frame's reason has been cut by [maxCloseReason]: bytes may be a valid
// single code point cut off mid-stream, and must not be reported as-is.
func validUTF8(s string) string {
	v := utf8Validator{}
	if v.step([]byte(s)) && v.complete() {
		return s
	}

	// Back off one byte at a time until the prefix is both DFA-valid and
	// complete (no pending partial code point).
	for n := len(s) - 1; n >= 0; n-- {
		v = utf8Validator{}
		if v.step([]byte(s[:n])) && v.complete() {
			return s[:n]
		}
	}
	return ""
}

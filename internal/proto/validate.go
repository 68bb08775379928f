package proto

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var nicknamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,32}$`)

// ValidNickname reports whether name is 1-32 ASCII letters, digits or underscores.
func ValidNickname(name string) bool {
	return nicknamePattern.MatchString(name)
}

// CanonicalChannel prefixes name with '#' when missing. It performs no other
// normalization; channel names are compared exactly.
func CanonicalChannel(name string) string {
	if strings.HasPrefix(name, "#") {
		return name
	}
	return "#" + name
}

// ValidChannel reports whether a canonical channel name is usable. The length
// limit counts characters, the '#' included.
func ValidChannel(name string) bool {
	if !strings.HasPrefix(name, "#") || !utf8.ValidString(name) {
		return false
	}
	if n := utf8.RuneCountInString(name); n < 2 || n > MaxChannelLength {
		return false
	}
	for _, r := range name[1:] {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == ',' {
			return false
		}
	}
	return true
}

type arity struct{ min, max int }

var commandArity = map[CommandType]arity{
	CommandConnect: {0, 2},
	CommandNick:    {1, 1},
	CommandList:    {0, 0},
	CommandJoin:    {0, 1},
	CommandLeave:   {0, 1},
	CommandMessage: {1, 2},
	CommandQuit:    {0, 1},
	CommandHelp:    {0, 0},
}

// Validate checks parameter count and content for the command type.
// Channel parameters are expected in canonical form; see Canonicalize.
func (c Command) Validate() error {
	a, ok := commandArity[c.Type]
	if !ok {
		return decodeErr("unknown command type %q", c.Type)
	}
	if n := len(c.Params); n < a.min || n > a.max {
		if a.min == a.max {
			return decodeErr("%s takes %d parameter(s), got %d", c.Type, a.min, n)
		}
		return decodeErr("%s takes %d to %d parameters, got %d", c.Type, a.min, a.max, n)
	}
	for i, p := range c.Params {
		if len(p) > MaxMessageLength {
			return decodeErr("parameter %d exceeds %d bytes", i, MaxMessageLength)
		}
	}

	switch c.Type {
	case CommandNick:
		if !ValidNickname(c.Params[0]) {
			return decodeErr("invalid nickname %q: use 1-%d letters, digits or underscores", c.Params[0], MaxNicknameLength)
		}
	case CommandJoin, CommandLeave:
		if len(c.Params) == 1 && !ValidChannel(c.Params[0]) {
			return decodeErr("invalid channel name %q (max %d characters)", c.Params[0], MaxChannelLength)
		}
	case CommandMessage:
		text := c.Params[len(c.Params)-1]
		if text == "" {
			return decodeErr("message text is empty")
		}
		if len(c.Params) == 2 && !ValidChannel(c.Params[0]) {
			return decodeErr("invalid channel name %q (max %d characters)", c.Params[0], MaxChannelLength)
		}
	}
	return nil
}

// Canonicalize returns a copy of c with channel parameters prefixed by '#'.
func (c Command) Canonicalize() Command {
	switch c.Type {
	case CommandJoin, CommandLeave:
		if len(c.Params) == 1 {
			c.Params = []string{CanonicalChannel(c.Params[0])}
		}
	case CommandMessage:
		if len(c.Params) == 2 {
			c.Params = []string{CanonicalChannel(c.Params[0]), c.Params[1]}
		}
	}
	return c
}

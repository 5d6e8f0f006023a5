package status

import (
	"fmt"
	"strings"
)

const (
	wireAccepted    = "Accepted"
	wireDone        = "Done"
	wireErrorPrefix = "Error("
	wireErrorSuffix = ")"
	wireErrorSep    = ":"
)

// DecodeError is returned by Decode when the text is not a known status.
type DecodeError struct {
	Text string
}

func (e *DecodeError) Error() string {
	return "Status unknown: " + e.Text
}

// Encode returns the wire representation of s. A nil status encodes as the
// empty string, which Decode rejects.
func Encode(s JobStatus) string {
	switch v := s.(type) {
	case Accepted:
		return wireAccepted
	case Done:
		return wireDone
	case Failed:
		return fmt.Sprintf("%s%s%s %s%s", wireErrorPrefix, v.Code, wireErrorSep, v.Message, wireErrorSuffix)
	default:
		return ""
	}
}

// Decode parses the wire representation produced by Encode.
func Decode(text string) (JobStatus, error) {
	switch text {
	case wireAccepted:
		return Accepted{}, nil
	case wireDone:
		return Done{}, nil
	}

	if !strings.HasPrefix(text, wireErrorPrefix) || !strings.HasSuffix(text, wireErrorSuffix) {
		return nil, &DecodeError{Text: text}
	}
	inner := text[len(wireErrorPrefix) : len(text)-len(wireErrorSuffix)]

	code, message, ok := strings.Cut(inner, wireErrorSep)
	if !ok {
		return nil, &DecodeError{Text: text}
	}
	// Encode always writes one space after the separator.
	message, ok = strings.CutPrefix(message, " ")
	if !ok {
		return nil, &DecodeError{Text: text}
	}

	return Failed{Code: code, Message: message}, nil
}

package git

import (
	"strings"
)

// Trailer keys written on merge commits and patch tags.
const (
	TrailerCob       = "Rad-Cob"
	TrailerAuthor    = "Rad-Author"
	TrailerPeer      = "Rad-Peer"
	TrailerCommitter = "Rad-Committer"
)

// Trailer is one "Key: value" line at the end of a message.
type Trailer struct {
	Key   string
	Value string
}

func (t Trailer) String() string {
	return t.Key + ": " + t.Value
}

// AppendTrailers returns message followed by a blank line and trailers.
func AppendTrailers(message string, trailers ...Trailer) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(message, "\n"))
	if len(trailers) > 0 {
		b.WriteString("\n\n")
		for _, t := range trailers {
			b.WriteString(t.String())
			b.WriteByte('\n')
		}
	} else {
		b.WriteByte('\n')
	}
	return b.String()
}

// ParseTrailers reads the trailer block of message: the last paragraph,
// when every line in it has the form "Key: value".
func ParseTrailers(message string) []Trailer {
	paragraphs := strings.Split(strings.TrimSpace(message), "\n\n")
	last := paragraphs[len(paragraphs)-1]

	var out []Trailer
	for _, line := range strings.Split(last, "\n") {
		key, value, ok := strings.Cut(line, ": ")
		if !ok || key == "" || strings.ContainsAny(key, " \t") {
			return nil
		}
		out = append(out, Trailer{Key: key, Value: strings.TrimSpace(value)})
	}
	return out
}

// TrailerValue returns the value of the first trailer named key.
func TrailerValue(trailers []Trailer, key string) (string, bool) {
	for _, t := range trailers {
		if strings.EqualFold(t.Key, key) {
			return t.Value, true
		}
	}
	return "", false
}

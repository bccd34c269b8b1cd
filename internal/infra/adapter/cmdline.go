package adapter

import (
	"errors"
	"fmt"
	"strings"
)

// ParseCommandLine splits a command line into argv the way a POSIX shell
// would for plain words: single and double quotes group, a backslash
// escapes the next rune except inside single quotes. No expansion is done.
func ParseCommandLine(cmdLine string) ([]string, error) {
	var (
		argv    []string
		word    strings.Builder
		inWord  bool // a word is open, possibly empty ("")
		quote   rune // the open quote, or 0
		escaped bool
	)

	for _, r := range cmdLine {
		switch {
		case escaped:
			word.WriteRune(r)
			escaped = false
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				word.WriteRune(r)
			}
		case r == '\\':
			escaped, inWord = true, true
		case quote == '"':
			if r == '"' {
				quote = 0
			} else {
				word.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote, inWord = r, true
		case r == ' ' || r == '\t':
			if inWord {
				argv = append(argv, word.String())
				word.Reset()
				inWord = false
			}
		default:
			word.WriteRune(r)
			inWord = true
		}
	}

	if quote != 0 {
		return nil, fmt.Errorf("unclosed %c quote in %q", quote, cmdLine)
	}
	if escaped {
		return nil, fmt.Errorf("trailing backslash in %q", cmdLine)
	}
	if inWord {
		argv = append(argv, word.String())
	}
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	return argv, nil
}

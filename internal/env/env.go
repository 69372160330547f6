package env

import (
	"os"
	"strings"
)

// Translator expands ${VAR} references inside configuration values. Values
// set through Set take precedence over the process environment, which keeps
// tests hermetic and lets a service predefine variables.
type Translator struct {
	overlay map[string]string
}

func NewTranslator() *Translator {
	return &Translator{overlay: make(map[string]string)}
}

// Set registers a variable that shadows the process environment.
func (t *Translator) Set(key, value string) {
	t.overlay[key] = value
}

func (t *Translator) lookup(key string) string {
	if v, ok := t.overlay[key]; ok {
		return v
	}
	return os.Getenv(key)
}

// Translate returns value with every ${VAR} reference replaced. Unknown
// variables expand to the empty string. Only the braced form is recognized;
// a lone '$' passes through untouched.
func (t *Translator) Translate(value string) string {
	if !strings.Contains(value, "${") {
		return value
	}

	var b strings.Builder
	b.Grow(len(value))

	for {
		start := strings.Index(value, "${")
		if start == -1 {
			b.WriteString(value)
			break
		}
		end := strings.Index(value[start:], "}")
		if end == -1 {
			b.WriteString(value)
			break
		}
		end += start

		b.WriteString(value[:start])
		b.WriteString(t.lookup(value[start+2 : end]))
		value = value[end+1:]
	}

	return b.String()
}

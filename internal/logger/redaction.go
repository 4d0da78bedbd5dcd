package logger

import (
	"io"
	"regexp"
	"sync"
)

const redacted = "[REDACTED]"

type rule struct {
	re   *regexp.Regexp
	repl string
}

// Redactor masks credentials in log lines and argument summaries. Key/value
// rules keep the key and replace only the value.
type Redactor struct {
	mu    sync.RWMutex
	rules []rule
}

// NewRedactor creates a new redactor with default patterns
func NewRedactor() *Redactor {
	return &Redactor{
		rules: []rule{
			// API keys
			{re: regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`), repl: redacted},
			{re: regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`), repl: redacted},

			// Bearer tokens
			{re: regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._~+/=-]+`), repl: redacted},

			// AWS keys
			{re: regexp.MustCompile(`AKIA[0-9A-Z]{16}`), repl: redacted},

			// Postgres and HTTP URLs with inline credentials
			{re: regexp.MustCompile(`(://[^:/\s"]+:)[^@/\s"]+@`), repl: "${1}" + redacted + "@"},

			// key=value, key: value and "key":"value"
			{
				re:   regexp.MustCompile(`(?i)("?(?:password|passwd|pwd|secret|shared_secret|token|api_?key|authorization)"?\s*[:=]\s*"?)[^\s",}&]+`),
				repl: "${1}" + redacted,
			},
		},
	}
}

// AddPattern adds a pattern whose whole match is masked.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.rules = append(r.rules, rule{re: re, repl: redacted})
	r.mu.Unlock()
	return nil
}

// Redact masks sensitive values in s.
func (r *Redactor) Redact(s string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rl := range r.rules {
		s = rl.re.ReplaceAllString(s, rl.repl)
	}
	return s
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success so callers do not treat a shorter
// redacted line as a short write.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}

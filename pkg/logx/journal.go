package logx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/rs/zerolog"
)

const journalIdentifier = "system-notifier"

var journalPriorities = map[zerolog.Level]journal.Priority{
	zerolog.TraceLevel: journal.PriDebug,
	zerolog.DebugLevel: journal.PriDebug,
	zerolog.InfoLevel:  journal.PriInfo,
	zerolog.WarnLevel:  journal.PriWarning,
	zerolog.ErrorLevel: journal.PriErr,
	zerolog.FatalLevel: journal.PriCrit,
	zerolog.PanicLevel: journal.PriCrit,
}

// journalWriter forwards zerolog JSON lines to systemd-journald, keeping
// structured fields as journal fields.
type journalWriter struct {
	send func(msg string, pri journal.Priority, vars map[string]string) error
}

func newJournalWriter() *journalWriter {
	if !journal.Enabled() {
		return nil
	}
	return &journalWriter{send: journal.Send}
}

func (w *journalWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *journalWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	e, ok := decodeEntry(p)
	if !ok {
		return len(p), nil
	}
	pri, ok := journalPriorities[level]
	if !ok {
		pri = journal.PriInfo
	}

	vars := make(map[string]string, len(e.fields)+1)
	for k, v := range e.fields {
		vars[journalFieldKey(k)] = v
	}
	vars["SYSLOG_IDENTIFIER"] = journalIdentifier

	msg := e.message
	if tag := e.fields["plugin"]; tag != "" {
		msg = "[" + tag + "] " + msg
	}
	if errStr := e.fields["err"]; errStr != "" {
		msg += ": " + errStr
	}
	if err := w.send(msg, pri, vars); err != nil {
		return 0, err
	}
	return len(p), nil
}

// journalFieldKey maps a log field name onto the journal's field alphabet:
// upper-case letters, digits and underscores, not starting with an underscore.
func journalFieldKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(k) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	key := strings.TrimLeft(b.String(), "_")
	if key == "" || (key[0] >= '0' && key[0] <= '9') {
		key = "F_" + key
	}
	return key
}

type entry struct {
	message string
	fields  map[string]string
}

// decodeEntry is a best-effort decode of one zerolog JSON line.
// time and level are dropped; every other value is stringified.
func decodeEntry(p []byte) (entry, bool) {
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(p), &m); err != nil {
		return entry{}, false
	}
	e := entry{fields: make(map[string]string, len(m))}
	for k, v := range m {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName:
			continue
		case zerolog.MessageFieldName:
			e.message, _ = v.(string)
			continue
		}
		if s, ok := v.(string); ok {
			e.fields[k] = s
		} else {
			e.fields[k] = fmt.Sprint(v)
		}
	}
	return e, true
}

package logx

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAlerter struct {
	mu    sync.Mutex
	calls []string
}

func (a *recordingAlerter) Alert(_ Level, summary, body string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, summary+"|"+body)
	return nil
}

func (a *recordingAlerter) snapshot() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

func TestLoggerWithAddsFixedFields(t *testing.T) {
	var buf bytes.Buffer
	log := FromZerolog(zerolog.New(&buf)).With(String("plugin", "battery"))

	log.Info("watcher loaded", Int("devices", 2))

	e, ok := decodeEntry(buf.Bytes())
	require.True(t, ok)
	assert.Equal(t, "watcher loaded", e.message)
	assert.Equal(t, "battery", e.fields["plugin"])
	assert.Equal(t, "2", e.fields["devices"])
	assert.NotEmpty(t, e.fields["caller"])
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var log Logger
	assert.True(t, log.IsZero())
	assert.NotPanics(t, func() { log.Error("ignored", Err(assert.AnError)) })
}

func TestDesktopWriterRespectsMinLevelAndRate(t *testing.T) {
	alerter := &recordingAlerter{}
	svc, log := New(Config{
		Level:   "debug",
		Desktop: DesktopConfig{Enabled: true, MinLevel: "error", RatePerMinute: 1},
	}, alerter)
	defer svc.Close()

	log.Warn("below threshold")
	log.With(String("plugin", "volume_pactl")).Error("pactl failed", Err(assert.AnError))
	log.Error("rate limited")

	require.Eventually(t, func() bool { return len(alerter.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	calls := alerter.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "[volume_pactl] pactl failed|"+assert.AnError.Error(), calls[0])
}

func TestJournalWriterMapsFields(t *testing.T) {
	var (
		gotMsg  string
		gotPri  journal.Priority
		gotVars map[string]string
	)
	w := &journalWriter{send: func(msg string, pri journal.Priority, vars map[string]string) error {
		gotMsg, gotPri, gotVars = msg, pri, vars
		return nil
	}}

	line := []byte(`{"level":"warn","plugin":"iwd","station-path":"/net/connman/iwd/0/3","err":"boom","message":"state lookup failed"}`)
	_, err := w.WriteLevel(zerolog.WarnLevel, line)
	require.NoError(t, err)

	assert.Equal(t, "[iwd] state lookup failed: boom", gotMsg)
	assert.Equal(t, journal.PriWarning, gotPri)
	assert.Equal(t, "iwd", gotVars["PLUGIN"])
	assert.Equal(t, "/net/connman/iwd/0/3", gotVars["STATION_PATH"])
	assert.Equal(t, journalIdentifier, gotVars["SYSLOG_IDENTIFIER"])
}

func TestJournalFieldKey(t *testing.T) {
	assert.Equal(t, "PLUGIN", journalFieldKey("plugin"))
	assert.Equal(t, "REPLACE_KEY", journalFieldKey("replace-key"))
	assert.Equal(t, "CALLER", journalFieldKey("_caller"))
	assert.Equal(t, "F_1X", journalFieldKey("1x"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel(" debug "))
	assert.Equal(t, LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
}

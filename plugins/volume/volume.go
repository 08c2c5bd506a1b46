// Package volume follows the default PulseAudio/PipeWire sink through pactl.
package volume

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"sysnotifier/internal/plugin"
	"sysnotifier/internal/runtime/supervisor"
	logx "sysnotifier/pkg/logx"
)

const Name = "volume_pactl"

const (
	replaceKey   = "volume"
	queryTimeout = 2 * time.Second
	defaultSink  = "@DEFAULT_SINK@"
)

var volumeRe = regexp.MustCompile(`(\d+)%`)

type icons struct {
	high, medium, low, muted string
}

// runner executes one pactl subcommand and returns its stdout.
type runner func(ctx context.Context, args ...string) (string, error)

type Plugin struct {
	ctx   *plugin.Context
	log   logx.Logger
	icons icons
	pactl string
	run   runner

	pending atomic.Bool
	stopped atomic.Bool
}

// New starts `pactl subscribe` and shows the current volume once.
// Options: high_icon, medium_icon, low_icon, muted_icon, pactl (binary path).
func New(ctx *plugin.Context) (plugin.Watcher, error) {
	bin, err := exec.LookPath(ctx.GetString("pactl", "pactl"))
	if err != nil {
		return nil, fmt.Errorf("pactl not available: %w", err)
	}
	p := newPlugin(ctx, bin)
	p.run = p.runPactl

	loop := ctx.Loop()
	loop.GoRestart(Name+".subscribe", p.subscribe, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	loop.Post(Name+".initial", p.update)
	p.log.Info("subscribed to pactl events")
	return p, nil
}

func newPlugin(ctx *plugin.Context, bin string) *Plugin {
	return &Plugin{
		ctx:   ctx,
		log:   ctx.Log,
		pactl: bin,
		icons: icons{
			high:   ctx.Icon("high_icon", "audio-volume-high"),
			medium: ctx.Icon("medium_icon", "audio-volume-medium"),
			low:    ctx.Icon("low_icon", "audio-volume-low"),
			muted:  ctx.Icon("muted_icon", "audio-volume-muted"),
		},
	}
}

// Close stops reacting to events. The subscribe process exits with the loop.
func (p *Plugin) Close() error {
	p.stopped.Store(true)
	return nil
}

func (p *Plugin) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, p.pactl, args...)
	// stable, parseable output
	cmd.Env = append(os.Environ(), "LANG=en_US.UTF-8", "LC_ALL=en_US.UTF-8")
	return cmd
}

func (p *Plugin) runPactl(ctx context.Context, args ...string) (string, error) {
	out, err := p.command(ctx, args...).Output()
	if err != nil {
		return "", fmt.Errorf("pactl %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}

// subscribe reads `pactl subscribe` until it exits. Any exit while the
// loop is still running is an error so the supervisor restarts it.
func (p *Plugin) subscribe(ctx context.Context) error {
	cmd := p.command(ctx, "subscribe")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start pactl subscribe: %w", err)
	}

	sc := bufio.NewScanner(stdout)
	for sc.Scan() {
		p.onLine(sc.Text())
	}
	werr := cmd.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return errors.Join(errors.New("pactl subscribe exited"), sc.Err(), werr)
}

// onLine schedules one refresh per burst of sink events.
func (p *Plugin) onLine(line string) {
	if !strings.Contains(line, "on sink") || p.stopped.Load() {
		return
	}
	if p.pending.CompareAndSwap(false, true) {
		p.ctx.Loop().Post(Name+".update", func() {
			p.pending.Store(false)
			p.update()
		})
	}
}

func (p *Plugin) update() {
	if p.stopped.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	vol, err := p.run(ctx, "get-sink-volume", defaultSink)
	if err != nil {
		p.log.Warn("volume query failed", logx.Err(err))
		return
	}
	mute, err := p.run(ctx, "get-sink-mute", defaultSink)
	if err != nil {
		p.log.Warn("mute query failed", logx.Err(err))
		return
	}
	if err := p.show(vol, mute); err != nil {
		p.log.Warn("notification failed", logx.Err(err))
	}
}

func (p *Plugin) show(volumeOut, muteOut string) error {
	if strings.Contains(strings.ToLower(muteOut), "yes") {
		return p.ctx.Notify("Volume",
			plugin.WithBody("Muted"),
			plugin.WithIcon(p.icons.muted),
			plugin.WithReplaceKey(replaceKey),
		)
	}
	pct, ok := parseVolume(volumeOut)
	if !ok {
		p.log.Warn("could not parse volume", logx.String("output", strings.TrimSpace(volumeOut)))
		return p.ctx.Notify("Volume",
			plugin.WithBody(strings.TrimSpace(volumeOut)),
			plugin.WithIcon(p.icons.high),
			plugin.WithReplaceKey(replaceKey),
		)
	}
	return p.ctx.Notify(fmt.Sprintf("Volume: %d%%", pct),
		plugin.WithIcon(p.iconFor(pct)),
		plugin.WithProgress(pct),
		plugin.WithReplaceKey(replaceKey),
	)
}

func (p *Plugin) iconFor(pct int) string {
	switch {
	case pct >= 75:
		return p.icons.high
	case pct >= 35:
		return p.icons.medium
	default:
		return p.icons.low
	}
}

// parseVolume returns the first percentage in get-sink-volume output.
func parseVolume(s string) (int, bool) {
	m := volumeRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

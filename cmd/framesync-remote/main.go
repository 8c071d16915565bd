// ABOUTME: Command line remote for a framesync control server
// ABOUTME: Finds the server via mDNS or --server and issues transport commands
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/framesync/internal/client"
	"github.com/Resonate-Protocol/framesync/internal/discovery"
	flog "github.com/Resonate-Protocol/framesync/internal/log"
	"github.com/Resonate-Protocol/framesync/internal/protocol"
	"github.com/Resonate-Protocol/framesync/internal/version"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

const usage = `usage: framesync-remote [flags] <command> [arg]

commands:
  play | pause | stop
  seek <frame>
  step <delta>
  drop on|off
  status
  watch
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "framesync-remote: %v\n", err)
		os.Exit(1)
	}
}

// action is one parsed remote command
type action struct {
	name string
	arg  int
	on   bool
}

func parseAction(args []string) (action, error) {
	if len(args) == 0 {
		return action{}, errors.New("no command given")
	}
	a := action{name: args[0]}

	switch a.name {
	case "play", "pause", "stop", "status", "watch":
		if len(args) != 1 {
			return a, fmt.Errorf("%s takes no arguments", a.name)
		}
	case "seek", "step":
		if len(args) != 2 {
			return a, fmt.Errorf("%s needs one integer argument", a.name)
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return a, fmt.Errorf("%s: %w", a.name, err)
		}
		a.arg = n
	case "drop":
		if len(args) != 2 {
			return a, errors.New("drop needs on or off")
		}
		switch args[1] {
		case "on", "true", "1":
			a.on = true
		case "off", "false", "0":
		default:
			return a, fmt.Errorf("drop: unknown value %q", args[1])
		}
	default:
		return a, fmt.Errorf("unknown command %q", a.name)
	}
	return a, nil
}

func run(args []string, out io.Writer) error {
	flags := pflag.NewFlagSet("framesync-remote", pflag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	serverAddr := flags.String("server", "", "Server address host:port (default: discover via mDNS)")
	name := flags.String("name", "framesync-remote", "Client name")
	timeout := flags.Duration("timeout", discovery.DefaultLookupTimeout, "Discovery and connect timeout")
	logLevel := flags.String("log-level", "warn", "Log level (debug, info, warn, error)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	act, err := parseAction(flags.Args())
	if err != nil {
		flags.Usage()
		return err
	}

	flog.Configure(flog.Config{Level: *logLevel, Output: os.Stderr, Console: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := *serverAddr
	if addr == "" {
		addr, err = discover(ctx, *timeout)
		if err != nil {
			return err
		}
	}

	c := client.NewClient(client.Config{
		ServerAddr: addr,
		ClientID:   uuid.NewString(),
		Name:       *name,
		DeviceInfo: protocol.DeviceInfo{
			ProductName:     "framesync-remote",
			Manufacturer:    version.Manufacturer,
			SoftwareVersion: version.Version,
		},
		Logger: flog.WithComponent("client"),
	})

	connectCtx, cancel := context.WithTimeout(ctx, *timeout)
	err = c.Connect(connectCtx)
	cancel()
	if err != nil {
		return err
	}
	defer c.Close()

	switch act.name {
	case "status":
		printState(out, c.Hello().State)
		return nil
	case "watch":
		printState(out, c.Hello().State)
		return watch(ctx, c, out)
	}

	if err := dispatch(c, act); err != nil {
		return err
	}

	// a rejected command comes back as server/error; give it a moment
	select {
	case e := <-c.Errors:
		return fmt.Errorf("%s: %s", e.Code, e.Message)
	case st := <-c.States:
		printState(out, st)
	case <-time.After(500 * time.Millisecond):
	case <-c.Done():
	}
	return nil
}

func discover(ctx context.Context, timeout time.Duration) (string, error) {
	servers, err := discovery.Lookup(ctx, timeout)
	if err != nil {
		return "", fmt.Errorf("discovery: %w", err)
	}
	if len(servers) == 0 {
		return "", errors.New("no framesync servers found, use --server")
	}
	return servers[0].Addr(), nil
}

type commander interface {
	Play() error
	Pause() error
	Stop() error
	Seek(frame int) error
	Step(delta int) error
	SetDropFrame(enabled bool) error
}

func dispatch(c commander, a action) error {
	switch a.name {
	case "play":
		return c.Play()
	case "pause":
		return c.Pause()
	case "stop":
		return c.Stop()
	case "seek":
		return c.Seek(a.arg)
	case "step":
		return c.Step(a.arg)
	case "drop":
		return c.SetDropFrame(a.on)
	}
	return fmt.Errorf("unknown command %q", a.name)
}

func watch(ctx context.Context, c *client.Client, out io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.Done():
			return errors.New("connection closed")
		case st := <-c.States:
			printState(out, st)
		case ev := <-c.Events:
			printEvent(out, ev)
		case e := <-c.Errors:
			fmt.Fprintf(out, "error   %s: %s\n", e.Code, e.Message)
		}
	}
}

func printState(out io.Writer, st protocol.State) {
	fmt.Fprintf(out, "state   %-8s frame %d/%d  clock %s  drop %v  %s\n",
		st.Mode, st.DisplayedFrame, st.FrameCount, st.ClockSource, st.DropFrame,
		formatMicros(st.Position))
}

func printEvent(out io.Writer, ev protocol.Event) {
	line := fmt.Sprintf("event   %-16s frame %d", ev.Type, ev.Frame)
	if ev.Count > 0 {
		line += fmt.Sprintf(" count %d", ev.Count)
	}
	if ev.Error != "" {
		line += " error " + ev.Error
	}
	fmt.Fprintln(out, line)
}

func formatMicros(us int64) string {
	if us < 0 {
		us = 0
	}
	d := time.Duration(us) * time.Microsecond
	return fmt.Sprintf("%02d:%06.3f", int(d.Minutes()), (d % time.Minute).Seconds())
}

package svcconfig

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/lattice-svc/lattice/pkg/graph"
)

// ParseError carries the file/line/setting context a malformed service
// description failed on.
type ParseError struct {
	File    string
	Line    int
	Setting string
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: setting %q: %s", e.File, e.Line, e.Setting, e.Reason)
}

// Parse reads one service description file's contents. name is the
// service's name (normally the file's basename); file is used only for
// error messages.
func Parse(r io.Reader, name, file string) (*ServiceDescription, error) {
	d := &ServiceDescription{Name: name, Kind: graph.KindInternal, SourceFile: file}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, op, val, err := splitSetting(line)
		if err != nil {
			return nil, &ParseError{File: file, Line: lineNo, Setting: line, Reason: err.Error()}
		}
		val = strings.TrimSpace(val)

		if err := apply(d, key, op, val); err != nil {
			return nil, &ParseError{File: file, Line: lineNo, Setting: key, Reason: err.Error()}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return d, nil
}

// splitSetting splits "key = value", "key: value", or "key += value" into
// its key, its operator ("=", ":" or "+="), and its raw value.
func splitSetting(line string) (key, op, val string, err error) {
	for _, candidate := range []string{"+=", ":", "="} {
		if idx := strings.Index(line, candidate); idx >= 0 {
			return strings.TrimSpace(line[:idx]), candidate, line[idx+len(candidate):], nil
		}
	}
	return "", "", "", fmt.Errorf("no '=', ':' or '+=' operator found")
}

func apply(d *ServiceDescription, key, op, val string) error {
	switch key {
	case "type":
		return applyKind(d, val)
	case "command":
		d.Command = splitWords(val)
	case "stop-command":
		d.StopCommand = splitWords(val)
	case "pidfile":
		d.PIDFile = val
	case "working-dir":
		d.WorkingDir = val
	case "env":
		d.Env = append(d.Env, val)
	case "depends-on":
		d.Depends = append(d.Depends, DepEntry{Name: val, Type: graph.Regular})
	case "depends-soft":
		d.Depends = append(d.Depends, DepEntry{Name: val, Type: graph.Soft})
	case "waits-for":
		d.Depends = append(d.Depends, DepEntry{Name: val, Type: graph.WaitsFor})
	case "milestone-on":
		d.Depends = append(d.Depends, DepEntry{Name: val, Type: graph.Milestone})
	case "before":
		d.Depends = append(d.Depends, DepEntry{Name: val, Type: graph.Before})
	case "after":
		d.Depends = append(d.Depends, DepEntry{Name: val, Type: graph.After})
	case "restart":
		return applyRestart(d, val)
	case "restart-limit":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("not an integer: %v", err)
		}
		d.RestartLimit = n
	case "restart-window":
		dur, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("not a duration: %v", err)
		}
		d.RestartWindow = dur
	case "start-timeout":
		dur, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("not a duration: %v", err)
		}
		d.StartTimeout = dur
	case "stop-timeout":
		dur, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("not a duration: %v", err)
		}
		d.StopTimeout = dur
	case "pidfile-timeout":
		dur, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("not a duration: %v", err)
		}
		d.PIDTimeout = dur
	case "chain-to":
		d.ChainTo = val
	case "log-buffer":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("not an integer: %v", err)
		}
		d.LogCapacity = n
	case "options":
		if op != "+=" {
			return fmt.Errorf("options only supports +=")
		}
		return applyOption(d, val)
	default:
		return fmt.Errorf("unknown setting")
	}
	return nil
}

func applyKind(d *ServiceDescription, val string) error {
	switch val {
	case "process":
		d.Kind = graph.KindProcess
	case "bgprocess":
		d.Kind = graph.KindBGProcess
	case "scripted":
		d.Kind = graph.KindScripted
	case "internal":
		d.Kind = graph.KindInternal
	case "triggered":
		d.Kind = graph.KindTriggered
	default:
		return fmt.Errorf("unknown service type %q", val)
	}
	return nil
}

func applyRestart(d *ServiceDescription, val string) error {
	switch val {
	case "never":
		d.Restart = graph.RestartNever
	case "always":
		d.Restart = graph.RestartAlways
	case "on-failure":
		d.Restart = graph.RestartOnFailure
	default:
		return fmt.Errorf("unknown restart mode %q", val)
	}
	return nil
}

func applyOption(d *ServiceDescription, val string) error {
	switch val {
	case "starts-on-console":
		d.OnStart.StartsOnConsole = true
	case "runs-on-console":
		d.OnStart.RunsOnConsole = true
	case "rw-ready":
		d.OnStart.RWReady = true
	case "log-ready":
		d.OnStart.LogReady = true
	case "always-chain":
		d.OnStart.AlwaysChain = true
	default:
		return fmt.Errorf("unknown option %q", val)
	}
	return nil
}

// splitWords splits a command line on whitespace. It does not support
// quoting: a command needing shell-style quoting should be wrapped in its
// own script.
func splitWords(s string) []string {
	return strings.Fields(s)
}

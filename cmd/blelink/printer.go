package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/session"
)

const (
	formatText = "text"
	formatJSON = "json"
)

func validateFormat(format string) error {
	switch format {
	case formatText, formatJSON:
		return nil
	default:
		return fmt.Errorf("invalid format '%s': must be one of [%s %s]", format, formatText, formatJSON)
	}
}

// eventRecord is the JSON line written for one session event.
type eventRecord struct {
	Type           string                   `json:"type"`
	At             time.Time                `json:"at"`
	Peripheral     *device.PeripheralRecord `json:"peripheral,omitempty"`
	Connected      *bool                    `json:"connected,omitempty"`
	Reason         string                   `json:"reason,omitempty"`
	State          string                   `json:"state,omitempty"`
	Characteristic string                   `json:"characteristic,omitempty"`
	Text           string                   `json:"text,omitempty"`
	ErrorKind      string                   `json:"error_kind,omitempty"`
	Error          string                   `json:"error,omitempty"`
}

func newEventRecord(ev session.Event) eventRecord {
	rec := eventRecord{Type: ev.Kind.String(), At: ev.At}
	if ev.Peripheral.ID != "" {
		p := ev.Peripheral
		rec.Peripheral = &p
	}

	switch ev.Kind {
	case session.EventConnection:
		connected := ev.Connected
		rec.Connected = &connected
		if !connected {
			rec.Reason = ev.Reason.String()
		}
	case session.EventState:
		rec.State = ev.State.String()
	case session.EventData:
		rec.Characteristic = ev.Message.Characteristic
		rec.Text = ev.Message.Text
	}

	if ev.Err != nil {
		rec.ErrorKind = string(session.KindOf(ev.Err))
		rec.Error = ev.Err.Error()
	}
	return rec
}

// eventPrinter renders session events as colored text lines or JSON lines.
type eventPrinter struct {
	w          io.Writer
	format     string
	showStates bool
	enc        *json.Encoder

	added     *color.Color
	up        *color.Color
	down      *color.Color
	failure   *color.Color
	faint     *color.Color
	highlight *color.Color
}

func newEventPrinter(w io.Writer, format string, showStates bool) *eventPrinter {
	return &eventPrinter{
		w:          w,
		format:     format,
		showStates: showStates,
		enc:        json.NewEncoder(w),
		added:      color.New(color.FgCyan),
		up:         color.New(color.FgGreen, color.Bold),
		down:       color.New(color.FgYellow),
		failure:    color.New(color.FgRed),
		faint:      color.New(color.Faint),
		highlight:  color.New(color.Bold),
	}
}

// Print writes one event. State events are skipped unless showStates is set.
func (p *eventPrinter) Print(ev session.Event) error {
	if ev.Kind == session.EventState && !p.showStates {
		return nil
	}
	if p.format == formatJSON {
		return p.enc.Encode(newEventRecord(ev))
	}

	stamp := p.faint.Sprint(ev.At.Format("15:04:05.000"))
	var line string
	switch ev.Kind {
	case session.EventCandidate:
		line = fmt.Sprintf("%s %s %s rssi=%d", p.added.Sprint("+"), p.highlight.Sprint(ev.Peripheral.DisplayName()), ev.Peripheral.ID, ev.Peripheral.RSSI)
	case session.EventConnection:
		if ev.Connected {
			line = fmt.Sprintf("%s %s", p.up.Sprint("connected"), ev.Peripheral)
		} else {
			line = fmt.Sprintf("%s %s (%s)", p.down.Sprint("disconnected"), ev.Peripheral, ev.Reason)
			if ev.Err != nil {
				line += ": " + ev.Err.Error()
			}
		}
	case session.EventState:
		line = p.faint.Sprintf("state %s %s", ev.State, ev.Peripheral.ID)
	case session.EventData:
		line = fmt.Sprintf("%s %s", p.highlight.Sprint(ev.Peripheral.DisplayName()+":"), ev.Message.Text)
	case session.EventError:
		line = p.failure.Sprintf("error %v", ev.Err)
	default:
		return nil
	}
	_, err := fmt.Fprintf(p.w, "%s %s\n", stamp, line)
	return err
}

// PrintJournal writes the lifecycle transitions recorded during the run.
func (p *eventPrinter) PrintJournal(entries []session.Transition) error {
	if p.format == formatJSON {
		if entries == nil {
			entries = []session.Transition{}
		}
		return p.enc.Encode(map[string]any{"type": "journal", "transitions": entries})
	}

	if len(entries) == 0 {
		_, err := fmt.Fprintln(p.w, "No transitions recorded")
		return err
	}
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tATTEMPT\tPERIPHERAL\tFROM\tTO")
	for _, t := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", t.At.Format("15:04:05.000"), t.Attempt, t.Peripheral, t.From, t.To)
	}
	return tw.Flush()
}

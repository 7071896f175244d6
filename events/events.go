// Package events defines the event payloads published on the bus by every
// sensing and policy component, plus the bus topics they travel on.
//
// Event types are dot-separated tags (spec: "saw.on", "aqm.bad", ...); each
// category gets a fixed-field Go struct instead of the original's loosely
// typed keyword-argument payload, per the tagged-variant design note.
package events

import "time"

// Event is the common envelope every payload embeds. TS is wall-clock time
// used for display only: ordering invariants are carried by bus publish
// order, never by comparing timestamps across publishers.
type Event struct {
	Type string
	Src  string
	TS   time.Time
}

func now(typ, src string) Event {
	return Event{Type: typ, Src: src, TS: time.Now()}
}

// ToolEvent is published by the ADC watcher on a debounced tool edge, and
// consumed by the matching gate controller and the collector aggregator.
type ToolEvent struct {
	Event
	Tool    string  // "saw", "lathe", ...
	Voltage float64 // the sample that committed the edge
}

// ToolOn builds a "<tool>.on" ToolEvent.
func ToolOn(src, tool string, v float64) ToolEvent {
	return ToolEvent{Event: now(tool+".on", src), Tool: tool, Voltage: v}
}

// ToolOff builds a "<tool>.off" ToolEvent.
func ToolOff(src, tool string, v float64) ToolEvent {
	return ToolEvent{Event: now(tool+".off", src), Tool: tool, Voltage: v}
}

// AqmMetrics is published on every valid PMS frame.
type AqmMetrics struct {
	Event
	PM1_0 float64
	PM2_5 float64
	PM10  float64
}

func NewAqmMetrics(src string, pm1_0, pm25, pm10 float64) AqmMetrics {
	return AqmMetrics{Event: now("aqm.metrics", src), PM1_0: pm1_0, PM2_5: pm25, PM10: pm10}
}

// AqmTransition is published when is_bad flips, and once for the reader's
// first valid frame, when there is no prior state to compare against;
// Severe reflects the severe-threshold state at the moment of publication.
type AqmTransition struct {
	Event
	PM2_5  float64
	Severe bool
}

func NewAqmGood(src string, pm25 float64, severe bool) AqmTransition {
	return AqmTransition{Event: now("aqm.good", src), PM2_5: pm25, Severe: severe}
}

func NewAqmBad(src string, pm25 float64, severe bool) AqmTransition {
	return AqmTransition{Event: now("aqm.bad", src), PM2_5: pm25, Severe: severe}
}

// AqmStatus mirrors the original's OLED dedup-on-change payload; published
// retained so a late-subscribing display picks up the current state
// immediately.
type AqmStatus struct {
	Event
	Status string // "waiting", "good", "bad", "severe"
	PM1_0  float64
	PM2_5  float64
	PM10   float64
}

func NewAqmStatus(src, status string, pm1_0, pm25, pm10 float64) AqmStatus {
	return AqmStatus{Event: now("aqm.status", src), Status: status, PM1_0: pm1_0, PM2_5: pm25, PM10: pm10}
}

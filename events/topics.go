package events

import "dustcollector/bus"

// ToolTopic returns the bus topic for "<tool>.on" or "<tool>.off".
func ToolTopic(tool, edge string) bus.Topic { return bus.T(tool, edge) }

// AqmMetricsTopic is the topic every valid PMS frame is published on.
func AqmMetricsTopic() bus.Topic { return bus.T("aqm", "metrics") }

// AqmTransitionTopic returns the topic for an is_bad transition ("good" or "bad").
func AqmTransitionTopic(which string) bus.Topic { return bus.T("aqm", which) }

// AqmStatusTopic is the retained display-facing status topic.
func AqmStatusTopic() bus.Topic { return bus.T("aqm", "status") }

// Package mqtt mirrors the assistant's status to an MQTT broker.
//
// The publisher appears in Home Assistant as a device with a handful of
// sensors (status, generations and tool calls today, last request, version,
// uptime). It follows the event bus and republishes every generation
// lifecycle event, retained, on <base_topic>/event so the last one is
// always visible. A will message flips the availability topic to
// "offline" on unexpected disconnects.
//
// With commands enabled it also subscribes to <base_topic>/workflow/run
// and runs the named workflow, publishing the result on
// <base_topic>/workflow/result.
package mqtt

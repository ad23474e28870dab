// Package command sends beacon commands and watches beacon status.
//
// Publisher is the outbound side: it publishes on the command topic and
// queues an outgoing audit record for every attempt. StatusMonitor is the
// inbound side: it subscribes to the status topic through the mqtt
// Registry and queues an incoming audit record for each message.
//
// Auditing never affects the result of a publish; see audit.Recorder.
package command

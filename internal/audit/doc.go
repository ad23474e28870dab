// Package audit keeps an append-only log of MQTT traffic.
//
// Every command published and every status message received becomes a
// Record in the audit_logs table. Payloads are stored parsed; text that is
// not JSON is kept as {"raw": text}.
//
// Writers go through a Recorder, which queues records and writes them from
// a single goroutine so that a slow or failing database never delays or
// fails the publish that produced the record.
package audit

// Package fleet holds the vehicle and beacon records kept in the document
// store.
//
// A vehicle arrives at the yard in StatusReception and moves to StatusYard
// once a beacon is attached. A beacon is available until it is attached to
// a vehicle. Repository covers registration, editing and lookup; pairing
// and removal live in the pairing package because they touch both records.
package fleet

// Package store is the document store used for vehicles and beacons.
//
// Documents are schemaless field maps grouped in collections. Besides the
// usual get/find/add/update/delete, the store offers live queries: Listen
// delivers a complete snapshot of a query immediately and again after every
// write to its collection, which is what keeps the pairing screen's lists
// current.
//
// SQLiteStore keeps each document as a JSON object in the documents table
// and supports transactions through Transactor.
package store

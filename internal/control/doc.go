// Package control routes inbound control messages to fieldbus writers.
//
// A Router maps a control topic to an ordered list of registrations, each a
// writer plus an optional echo topic. Registrations for the same topic
// accumulate; one message fans out to all of them. A router is built fresh
// for every synchronization pass and swapped in whole.
package control

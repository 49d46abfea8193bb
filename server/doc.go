// Package server implements the report distribution service.
//
// The service is a dumb mailbox: clients POST signed reports and poll them
// back by time interval. It never learns who observed whom; the only
// server-side state is the opaque report blob and the interval it arrived in.
package server

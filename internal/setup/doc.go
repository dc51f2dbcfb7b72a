// Package setup negotiates a DAXIQ stream on a connected radio.
//
// A Negotiator subscribes to panadapter status, picks a panadapter, asks the
// radio to create the stream, subscribes and tunes, and later removes the
// stream again. Status lines keep updating its model for the life of the
// session through a single Dispatch method.
package setup

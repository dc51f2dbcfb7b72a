// Package session drives one DAXIQ streaming session end to end: find the
// radio, open the command channel, negotiate the stream and receive it.
package session

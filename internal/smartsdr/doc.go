// Package smartsdr implements the SmartSDR TCP command channel.
//
// Commands are framed as "C<seq>|<command>\n" and answered by
// "R<seq>|<status hex>|<message>". Lines starting with S or V are
// unsolicited status and version notifications; they are handed to the
// registered notification handler in arrival order.
//
// A Client serializes sequence allocation and socket writes, matches
// responses to waiting callers by sequence number and discards responses
// that arrive after their caller timed out.
package smartsdr

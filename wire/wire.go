// Package wire implements the line-oriented protocol spoken between the
// server, its clients and peer servers: CRLF framing over ISO-8859-1, the
// SMTP-style envelope dialog, the body substitution cipher and the Transport
// that owns a connection.
package wire

import "fmt"

const (
	// DefaultPort is the port servers listen on
	DefaultPort = 25

	// Delimiter terminates every protocol line
	Delimiter = "\r\n"

	// CodeGreeting is sent by the server as an initializing hello
	CodeGreeting = 220
	// CodeOK acknowledges a client request in the affirmative
	CodeOK = 250
	// CodeStartData tells the sender to start transmitting the body
	CodeStartData = 354
	// CodeUnknown rejects a command that matched no dispatch entry
	CodeUnknown = 500
	// CodeClosing acknowledges a QUIT
	CodeClosing = 221

	// LoginAccepted is sent when a login is successful
	LoginAccepted = "ACCEPTED"
	// LoginDeclined is sent when a login is rejected
	LoginDeclined = "DECLINED"

	// MailFromPrefix opens a mail transaction
	MailFromPrefix = "MAIL FROM:"
	// RcptToPrefix adds an envelope recipient
	RcptToPrefix = "RCPT TO:"
	// DataHeader announces the message body
	DataHeader = "DATA"
	// Terminator ends the message body when alone on a line
	Terminator = "."

	// EncryptedMarker is the first body line of a substituted message.
	// The marker itself is never substituted.
	EncryptedMarker = "_ENCRYPTED_"
	// PlainMarker is the first body line of a plaintext message
	PlainMarker = "NOT-ENCRYPTED"

	// ShiftAmount is the fixed rotation applied to body lines when
	// a message is marked encrypted. 26-ShiftAmount reverses it.
	ShiftAmount = 13
)

// ReplyOK is the canned positive acknowledgment.
var ReplyOK = fmt.Sprintf("%d OK", CodeOK)

// ReplyStartData is the canned 354 response.
var ReplyStartData = fmt.Sprintf("%d End data with <CR><LF> %s<CR><LF>", CodeStartData, Terminator)

// ReplyUnknown is the canned 500 response.
var ReplyUnknown = fmt.Sprintf("%d unrecognized command", CodeUnknown)

// Greeting formats the server's opening line.
func Greeting(localHost string) string {
	return fmt.Sprintf("%d %s ESMTP", CodeGreeting, localHost)
}

// Helo formats the client's reply to the greeting.
func Helo(localHost string) string {
	return "HELO " + localHost
}

// HelloReply formats the server's acknowledgment of HELO.
func HelloReply(remoteHost string) string {
	return fmt.Sprintf("%d Hello %s, I am glad to meet you", CodeOK, remoteHost)
}

// Farewell formats the server's reply to QUIT.
func Farewell(localHost string) string {
	return fmt.Sprintf("%d %s Service closing transmission channel", CodeClosing, localHost)
}

// MailFrom formats an envelope sender line.
func MailFrom(addr string) string {
	return MailFromPrefix + "<" + addr + ">"
}

// RcptTo formats an envelope recipient line.
func RcptTo(addr string) string {
	return RcptToPrefix + "<" + addr + ">"
}

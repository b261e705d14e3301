package mailtest

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"
)

// Session states for the SMTP state machine.
const (
	stateConnected = iota
	stateGreeted
	stateAuthOK
	stateMailFrom
	stateRcptTo
)

// idleTimeout is the maximum time a session can remain idle before being closed.
const idleTimeout = 10 * time.Second

// maxMessageSize is advertised in the EHLO SIZE extension.
const maxMessageSize = 10 * 1024 * 1024

// session is one client connection and its SMTP state machine.
type session struct {
	srv    *Server
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	state  int

	helo      string
	authUser  string
	tlsActive bool

	// Current transaction
	mailFrom string
	rcptTo   []string
}

func newSession(srv *Server, conn net.Conn) *session {
	return &session{
		srv:    srv,
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		state:  stateConnected,

		tlsActive: srv.opts.ImplicitTLS && srv.opts.TLSConfig != nil,
	}
}

// handle processes commands until the client quits or disconnects.
func (s *session) handle() {
	defer s.conn.Close()

	s.writeLine("220 %s ESMTP mailtest", s.srv.opts.Hostname)

	for {
		if err := s.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			return
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				slog.Debug("connection read error", "error", err)
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		cmd, arg := parseCommand(line)
		if done := s.handleCommand(cmd, arg); done {
			return
		}
	}
}

// handleCommand processes a single SMTP command and returns true if the session should end.
func (s *session) handleCommand(cmd, arg string) bool {
	switch cmd {
	case "EHLO", "HELO":
		s.handleEHLO(cmd, arg)
	case "STARTTLS":
		return s.handleSTARTTLS()
	case "AUTH":
		s.handleAUTH(arg)
	case "MAIL":
		s.handleMAIL(arg)
	case "RCPT":
		s.handleRCPT(arg)
	case "DATA":
		return s.handleDATA()
	case "RSET":
		s.resetTransaction()
		s.writeLine("250 2.0.0 Ok")
	case "NOOP":
		s.writeLine("250 2.0.0 Ok")
	case "QUIT":
		s.writeLine("221 2.0.0 Bye")
		return true
	default:
		s.writeLine("500 5.5.2 Unrecognized command")
	}
	return false
}

func (s *session) handleEHLO(cmd, arg string) {
	if arg == "" {
		s.writeLine("501 Syntax: %s hostname", cmd)
		return
	}

	s.helo = arg
	s.resetTransaction()
	if s.state < stateGreeted {
		s.state = stateGreeted
	}

	if cmd == "HELO" {
		s.writeLine("250 %s", s.srv.opts.Hostname)
		return
	}

	s.writeLine("250-%s Hello %s", s.srv.opts.Hostname, arg)
	if s.srv.opts.TLSConfig != nil && !s.tlsActive {
		s.writeLine("250-STARTTLS")
	}
	if s.srv.auth.enabled() {
		s.writeLine("250-AUTH %s", s.srv.opts.Mechanisms)
	}
	s.writeLine("250-SIZE %d", maxMessageSize)
	s.writeLine("250 HELP")
}

// handleSTARTTLS upgrades the connection. A failed handshake ends the session.
func (s *session) handleSTARTTLS() bool {
	if s.srv.opts.TLSConfig == nil {
		s.writeLine("454 4.7.0 TLS not available")
		return false
	}
	if s.tlsActive {
		s.writeLine("454 4.7.0 TLS already active")
		return false
	}

	s.writeLine("220 2.0.0 Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.srv.opts.TLSConfig)
	if err := tlsConn.Handshake(); err != nil {
		slog.Debug("TLS handshake failed", "error", err)
		return true
	}

	// RFC 3207: the client must greet again after the upgrade
	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
	s.tlsActive = true
	s.state = stateConnected
	s.authUser = ""
	s.resetTransaction()
	return false
}

func (s *session) handleAUTH(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 5.5.1 Send EHLO/HELO first")
		return
	}
	if !s.srv.auth.enabled() {
		s.writeLine("503 5.5.1 AUTH not available")
		return
	}
	if s.state >= stateAuthOK {
		s.writeLine("503 5.5.1 Already authenticated")
		return
	}

	parts := strings.SplitN(arg, " ", 2)
	mechanism := strings.ToUpper(parts[0])

	if !strings.Contains(" "+strings.ToUpper(s.srv.opts.Mechanisms)+" ", " "+mechanism+" ") {
		s.writeLine("504 5.5.4 Unrecognized authentication type")
		return
	}

	switch mechanism {
	case "PLAIN":
		s.handleAuthPlain(parts)
	case "LOGIN":
		s.handleAuthLogin()
	default:
		s.writeLine("504 5.5.4 Unrecognized authentication type")
	}
}

func (s *session) handleAuthPlain(parts []string) {
	var encoded string

	if len(parts) > 1 && parts[1] != "" {
		// Credentials provided inline: AUTH PLAIN <base64>
		encoded = parts[1]
	} else {
		s.writeLine("334 ")
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return
		}
		encoded = strings.TrimRight(line, "\r\n")
	}

	if encoded == "*" {
		s.writeLine("501 5.7.0 Authentication cancelled")
		return
	}

	user, err := s.srv.auth.verifyPlain(encoded)
	if err != nil {
		s.writeLine("535 5.7.8 Authentication failed")
		return
	}

	s.authUser = user
	s.state = stateAuthOK
	s.writeLine("235 2.7.0 Authentication successful")
}

func (s *session) handleAuthLogin() {
	// base64("Username:")
	s.writeLine("334 VXNlcm5hbWU6")
	userLine, err := s.reader.ReadString('\n')
	if err != nil {
		return
	}
	encodedUser := strings.TrimRight(userLine, "\r\n")
	if encodedUser == "*" {
		s.writeLine("501 5.7.0 Authentication cancelled")
		return
	}

	// base64("Password:")
	s.writeLine("334 UGFzc3dvcmQ6")
	passLine, err := s.reader.ReadString('\n')
	if err != nil {
		return
	}
	encodedPass := strings.TrimRight(passLine, "\r\n")
	if encodedPass == "*" {
		s.writeLine("501 5.7.0 Authentication cancelled")
		return
	}

	user, err := s.srv.auth.verifyLogin(encodedUser, encodedPass)
	if err != nil {
		s.writeLine("535 5.7.8 Authentication failed")
		return
	}

	s.authUser = user
	s.state = stateAuthOK
	s.writeLine("235 2.7.0 Authentication successful")
}

func (s *session) handleMAIL(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 5.5.1 Send EHLO/HELO first")
		return
	}
	if s.srv.auth.enabled() && s.authUser == "" {
		s.writeLine("530 5.7.0 Authentication required")
		return
	}
	if s.state >= stateMailFrom {
		s.writeLine("503 5.5.1 Nested MAIL command")
		return
	}

	if !strings.HasPrefix(strings.ToUpper(arg), "FROM:") {
		s.writeLine("501 5.5.4 Syntax: MAIL FROM:<address>")
		return
	}

	// The null sender <> is allowed
	addr, ok := extractAddress(arg[5:])
	if !ok {
		s.writeLine("501 5.5.4 Syntax: MAIL FROM:<address>")
		return
	}

	s.mailFrom = addr
	s.rcptTo = nil
	s.state = stateMailFrom
	s.writeLine("250 2.1.0 Ok")
}

func (s *session) handleRCPT(arg string) {
	if s.state < stateMailFrom {
		s.writeLine("503 5.5.1 Send MAIL FROM first")
		return
	}

	if !strings.HasPrefix(strings.ToUpper(arg), "TO:") {
		s.writeLine("501 5.5.4 Syntax: RCPT TO:<address>")
		return
	}

	addr, ok := extractAddress(arg[3:])
	if !ok || addr == "" {
		s.writeLine("501 5.5.4 Syntax: RCPT TO:<address>")
		return
	}

	if s.srv.rejects(addr) {
		s.writeLine("550 5.1.1 <%s>: Recipient address rejected", addr)
		return
	}

	s.rcptTo = append(s.rcptTo, addr)
	s.state = stateRcptTo
	s.writeLine("250 2.1.5 Ok")
}

// handleDATA reads the message up to the lone "." line and records it. A read
// error ends the session.
// @MX:WARN: [AUTO] DATA handler reads until dot-stuffed terminator; large messages may consume memory
// @MX:REASON: Unbounded read from network until \r\n.\r\n terminator
func (s *session) handleDATA() bool {
	if s.state < stateRcptTo {
		s.writeLine("503 5.5.1 Send RCPT TO first")
		return false
	}

	s.writeLine("354 End data with <CR><LF>.<CR><LF>")

	var data bytes.Buffer
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			slog.Debug("error reading DATA", "error", err)
			return true
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "." {
			break
		}

		// Dot-stuffing: a leading ".." loses one dot
		if strings.HasPrefix(line, "..") {
			line = line[1:]
		}
		data.WriteString(line)
	}

	id := s.srv.record(Delivery{
		Helo:     s.helo,
		AuthUser: s.authUser,
		TLS:      s.tlsActive,
		From:     s.mailFrom,
		To:       append([]string(nil), s.rcptTo...),
		Data:     data.Bytes(),
	})

	s.writeLine("250 2.0.0 Ok: queued as %d", id)
	s.resetTransaction()
	return false
}

// resetTransaction clears the current mail transaction without affecting the
// greeting or authentication.
func (s *session) resetTransaction() {
	s.mailFrom = ""
	s.rcptTo = nil

	switch {
	case s.authUser != "":
		s.state = stateAuthOK
	case s.state > stateGreeted:
		s.state = stateGreeted
	}
}

// writeLine writes a formatted line to the client, followed by \r\n.
func (s *session) writeLine(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if _, err := s.writer.WriteString(line + "\r\n"); err != nil {
		slog.Debug("failed to write to client", "error", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		slog.Debug("failed to flush to client", "error", err)
	}
}

// parseCommand splits an SMTP command line into the command verb and its argument.
func parseCommand(line string) (string, string) {
	parts := strings.SplitN(line, " ", 2)
	cmd := strings.ToUpper(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = parts[1]
	}
	return cmd, arg
}

// extractAddress extracts the address from a MAIL or RCPT parameter, handling
// both angle-bracket and bare forms. ESMTP parameters after the address are
// ignored.
func extractAddress(s string) (string, bool) {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return "", false
		}
		return s[1:end], true
	}

	if fields := strings.Fields(s); len(fields) > 0 {
		return fields[0], true
	}
	return "", false
}

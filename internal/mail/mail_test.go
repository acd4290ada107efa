package mail

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/and161185/backoffice/internal/errs"
	"github.com/stretchr/testify/require"
)

// fakeSMTP accepts a single session and records the DATA payload.
type fakeSMTP struct {
	ln   net.Listener
	data chan string
	rcpt chan string
}

func startFakeSMTP(t *testing.T, silent bool) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeSMTP{ln: ln, data: make(chan string, 1), rcpt: make(chan string, 1)}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if silent {
			time.Sleep(2 * time.Second)
			return
		}
		r := bufio.NewReader(conn)
		write := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }
		write("220 fake ESMTP")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				write("250-fake")
				write("250 8BITMIME")
			case cmd == "NOOP", cmd == "RSET":
				write("250 ok")
			case strings.HasPrefix(cmd, "MAIL FROM"):
				write("250 ok")
			case strings.HasPrefix(cmd, "RCPT TO"):
				f.rcpt <- strings.TrimSpace(line)
				write("250 ok")
			case cmd == "DATA":
				write("354 go ahead")
				var b strings.Builder
				for {
					l, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if l == ".\r\n" {
						break
					}
					b.WriteString(l)
				}
				f.data <- b.String()
				write("250 queued")
			case cmd == "QUIT":
				write("221 bye")
				return
			default:
				write("502 unsupported")
			}
		}
	}()
	return f
}

func (f *fakeSMTP) config() SMTPConfig {
	host, port, _ := net.SplitHostPort(f.ln.Addr().String())
	p, _ := strconv.Atoi(port)
	return SMTPConfig{Host: host, Port: p, From: "noreply@example.com"}
}

func TestSMTPSender_Send(t *testing.T) {
	srv := startFakeSMTP(t, false)
	s, err := NewSMTPSender(srv.config())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = s.Send(ctx, Message{To: "a@x.com", Subject: "Reset", Body: "line1\nhttps://x/reset/abc"})
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(<-srv.rcpt, "RCPT TO:<a@x.com>"))
	data := <-srv.data
	require.Contains(t, data, "From: <noreply@example.com>\r\n")
	require.Contains(t, data, "To: <a@x.com>\r\n")
	require.Contains(t, data, "Subject: Reset\r\n")
	require.Contains(t, data, "Date: ")
	require.Contains(t, data, "https://x/reset/abc")
}

func TestSMTPSender_EncodesHeaders(t *testing.T) {
	srv := startFakeSMTP(t, false)
	s, err := NewSMTPSender(srv.config())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Send(ctx, Message{To: "a@x.com", Subject: "Сброс пароля\r\nBcc: evil@x.com", Body: "b"}))

	<-srv.rcpt
	data := <-srv.data
	require.NotContains(t, data, "\r\nBcc: evil@x.com")
	require.Contains(t, data, "Subject: =?UTF-8?")
}

func TestSMTPSender_RejectsBadRecipient(t *testing.T) {
	s, err := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: 1, From: "noreply@example.com"})
	require.NoError(t, err)

	err = s.Send(context.Background(), Message{To: "a@x.com>\r\nRCPT TO:<b@x.com", Subject: "s", Body: "b"})
	require.ErrorContains(t, err, "to:")
}

func TestSMTPSender_StartTLSUnsupported(t *testing.T) {
	srv := startFakeSMTP(t, false)
	cfg := srv.config()
	cfg.StartTLS = true
	s, err := NewSMTPSender(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = s.Send(ctx, Message{To: "a@x.com", Subject: "s", Body: "b"})
	require.ErrorContains(t, err, "STARTTLS")
}

func TestSMTPSender_HonorsCanceledContext(t *testing.T) {
	srv := startFakeSMTP(t, true)
	s, err := NewSMTPSender(srv.config())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	require.Error(t, s.Send(ctx, Message{To: "a@x.com", Subject: "s", Body: "b"}))
	require.Less(t, time.Since(start), time.Second)
}

func TestDisabled(t *testing.T) {
	err := Disabled{}.Send(context.Background(), Message{To: "a@x.com"})
	require.True(t, errors.Is(err, errs.ErrMailUnavailable))
}

package notify

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/job-radar/internal/listing"
)

func sampleListings() []listing.Listing {
	return []listing.Listing{
		{Title: "Senior Go Engineer", Company: "Acme", URL: "https://acme.test/1", Location: "Berlin", Source: "serpapi", Score: 0.85, Reason: "Skills: go, kubernetes"},
		{Title: "Platform Engineer", Company: "Globex", URL: "https://globex.test/2", Remote: true, Score: 0.42},
	}
}

func TestComposeSubjectAndBody(t *testing.T) {
	now := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	msg := Compose(sampleListings(), now)

	if want := "job-radar: 2 new matching jobs - March 2, 2026"; msg.Subject != want {
		t.Fatalf("subject = %q, want %q", msg.Subject, want)
	}

	for _, fragment := range []string{
		"#1 [85%] Senior Go Engineer @ Acme",
		"Berlin | serpapi",
		"Skills: go, kubernetes",
		"https://acme.test/1",
		"#2 [42%] Platform Engineer @ Globex",
		"   remote\n",
	} {
		if !strings.Contains(msg.Body, fragment) {
			t.Fatalf("body missing %q:\n%s", fragment, msg.Body)
		}
	}
	if strings.Index(msg.Body, "Acme") > strings.Index(msg.Body, "Globex") {
		t.Fatalf("listings out of order:\n%s", msg.Body)
	}
	if len(msg.Listings) != 2 || !msg.CreatedAt.Equal(now) {
		t.Fatalf("unexpected payload: %+v", msg)
	}
}

func TestComposeSingular(t *testing.T) {
	msg := Compose(sampleListings()[:1], time.Date(2026, time.January, 5, 0, 0, 0, 0, time.UTC))
	if msg.Subject != "job-radar: 1 new matching job - January 5, 2026" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
}

func TestComposeTest(t *testing.T) {
	msg := ComposeTest(time.Date(2026, time.October, 19, 14, 5, 6, 0, time.UTC))
	if msg.Subject != "job-radar - test notification (2026-10-19 14:05:06)" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if msg.Body == "" || len(msg.Listings) != 0 {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestNewUnknownTransport(t *testing.T) {
	if _, err := New(Config{Transport: "pigeon"}, nil); err == nil {
		t.Fatal("expected error for unknown transport")
	}
	n, err := New(Config{}, nil)
	if err != nil || n != nil {
		t.Fatalf("expected nil notifier without transport, got %v, %v", n, err)
	}
}

func TestNewSMTPValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  SMTPConfig
	}{
		{name: "no host", cfg: SMTPConfig{From: "a@b.c", To: []string{"x@y.z"}}},
		{name: "no sender", cfg: SMTPConfig{Host: "localhost", To: []string{"x@y.z"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSMTP(tt.cfg, nil); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSMTPSendWithoutRecipients(t *testing.T) {
	sender, err := NewSMTP(SMTPConfig{Host: "127.0.0.1", Port: 1, From: "a@b.c"}, nil)
	if err != nil {
		t.Fatalf("NewSMTP: %v", err)
	}
	if err := sender.Send(context.Background(), ComposeTest(time.Now())); err == nil || !strings.Contains(err.Error(), "no recipients") {
		t.Fatalf("expected no recipients error, got %v", err)
	}
}

func TestSMTPMessageRecipientsOverrideDefaults(t *testing.T) {
	srv := startFakeSMTP(t, fakeSMTPOptions{})
	sender, err := NewSMTP(SMTPConfig{
		Host: "127.0.0.1",
		Port: srv.port(t),
		From: "radar@example.com",
		To:   []string{"default@example.com"},
	}, nil)
	if err != nil {
		t.Fatalf("NewSMTP: %v", err)
	}

	msg := ComposeTest(time.Now())
	msg.To = []string{"user@example.com"}
	if err := sender.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	<-srv.done

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.rcpt) != 1 || srv.rcpt[0] != "user@example.com" {
		t.Fatalf("rcpt = %v", srv.rcpt)
	}
}

type fakeSMTPServer struct {
	ln   net.Listener
	mu   sync.Mutex
	from string
	rcpt []string
	data string
	// auth holds the decoded AUTH PLAIN response.
	auth string
	done chan struct{}
}

type fakeSMTPOptions struct {
	rejectRcpt bool
	offerAuth  bool
}

func startFakeSMTP(t *testing.T, opts fakeSMTPOptions) *fakeSMTPServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &fakeSMTPServer{ln: ln, done: make(chan struct{})}
	t.Cleanup(func() { ln.Close() })

	go func() {
		defer close(srv.done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		r := bufio.NewReader(conn)
		reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }
		reply("220 localhost ESMTP")

		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.TrimRight(line, "\r\n")
			upper := strings.ToUpper(cmd)
			switch {
			case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
				reply("250-localhost")
				if opts.offerAuth {
					reply("250-AUTH PLAIN")
				}
				reply("250 8BITMIME")
			case strings.HasPrefix(upper, "AUTH PLAIN"):
				if !opts.offerAuth {
					reply("502 not implemented")
					continue
				}
				resp := strings.TrimSpace(cmd[len("AUTH PLAIN"):])
				if resp == "" {
					reply("334 ")
					l, err := r.ReadString('\n')
					if err != nil {
						return
					}
					resp = strings.TrimRight(l, "\r\n")
				}
				decoded, _ := base64.StdEncoding.DecodeString(resp)
				srv.mu.Lock()
				srv.auth = string(decoded)
				srv.mu.Unlock()
				reply("235 2.7.0 authenticated")
			case strings.HasPrefix(upper, "MAIL FROM:"):
				srv.mu.Lock()
				srv.from = strings.Trim(cmd[len("MAIL FROM:"):], "<> ")
				srv.mu.Unlock()
				reply("250 OK")
			case strings.HasPrefix(upper, "RCPT TO:"):
				if opts.rejectRcpt {
					reply("550 no such user")
					continue
				}
				srv.mu.Lock()
				srv.rcpt = append(srv.rcpt, strings.Trim(cmd[len("RCPT TO:"):], "<> "))
				srv.mu.Unlock()
				reply("250 OK")
			case upper == "DATA":
				reply("354 go ahead")
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
				srv.mu.Lock()
				srv.data = b.String()
				srv.mu.Unlock()
				reply("250 queued")
			case upper == "QUIT":
				reply("221 bye")
				return
			default:
				reply("250 OK")
			}
		}
	}()
	return srv
}

func (s *fakeSMTPServer) port(t *testing.T) int {
	t.Helper()
	_, p, _ := net.SplitHostPort(s.ln.Addr().String())
	port, err := strconv.Atoi(p)
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	return port
}

func TestSMTPSend(t *testing.T) {
	srv := startFakeSMTP(t, fakeSMTPOptions{})

	core, logs := observer.New(zap.InfoLevel)
	sender, err := NewSMTP(SMTPConfig{
		Host:    "127.0.0.1",
		Port:    srv.port(t),
		From:    "radar@example.com",
		To:      []string{"me@example.com"},
		Timeout: 5 * time.Second,
	}, zap.New(core))
	if err != nil {
		t.Fatalf("NewSMTP: %v", err)
	}

	msg := Compose(sampleListings(), time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC))
	if err := sender.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	<-srv.done

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.from != "radar@example.com" {
		t.Fatalf("from = %q", srv.from)
	}
	if len(srv.rcpt) != 1 || srv.rcpt[0] != "me@example.com" {
		t.Fatalf("rcpt = %v", srv.rcpt)
	}
	if !strings.Contains(srv.data, "Subject: job-radar: 2 new matching jobs - March 2, 2026") {
		t.Fatalf("subject header missing:\n%s", srv.data)
	}
	if !strings.Contains(srv.data, "Senior Go Engineer @ Acme") {
		t.Fatalf("body missing:\n%s", srv.data)
	}
	if logs.FilterMessage("email sent").Len() != 1 {
		t.Fatalf("expected email sent log entry")
	}
}

func TestSMTPSendRejectedRecipient(t *testing.T) {
	srv := startFakeSMTP(t, fakeSMTPOptions{rejectRcpt: true})
	sender, err := NewSMTP(SMTPConfig{
		Host: "127.0.0.1",
		Port: srv.port(t),
		From: "radar@example.com",
		To:   []string{"ghost@example.com"},
	}, nil)
	if err != nil {
		t.Fatalf("NewSMTP: %v", err)
	}
	if err := sender.Send(context.Background(), ComposeTest(time.Now())); err == nil {
		t.Fatal("expected error for rejected recipient")
	}
}

func TestSMTPSendAuthenticates(t *testing.T) {
	srv := startFakeSMTP(t, fakeSMTPOptions{offerAuth: true})
	sender, err := NewSMTP(SMTPConfig{
		Host:     "127.0.0.1",
		Port:     srv.port(t),
		Username: "radar",
		Password: "s3cret",
		From:     "radar@example.com",
		To:       []string{"me@example.com"},
		Timeout:  5 * time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("NewSMTP: %v", err)
	}

	if err := sender.Send(context.Background(), ComposeTest(time.Now())); err != nil {
		t.Fatalf("Send: %v", err)
	}
	<-srv.done

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.auth != "\x00radar\x00s3cret" {
		t.Fatalf("unexpected credentials %q", srv.auth)
	}
	if len(srv.rcpt) != 1 {
		t.Fatalf("rcpt = %v", srv.rcpt)
	}
}

func TestSMTPSendRefusesUnauthenticatedDelivery(t *testing.T) {
	srv := startFakeSMTP(t, fakeSMTPOptions{})
	sender, err := NewSMTP(SMTPConfig{
		Host:     "127.0.0.1",
		Port:     srv.port(t),
		Username: "radar",
		Password: "s3cret",
		From:     "radar@example.com",
		To:       []string{"me@example.com"},
		Timeout:  5 * time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("NewSMTP: %v", err)
	}

	if err := sender.Send(context.Background(), ComposeTest(time.Now())); err == nil {
		t.Fatal("expected an error when the server does not offer AUTH")
	}
	srv.ln.Close()
	<-srv.done

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.from != "" || len(srv.rcpt) != 0 || srv.data != "" {
		t.Fatalf("message must not be handed over without auth: from=%q rcpt=%v", srv.from, srv.rcpt)
	}
}

type fakeJetStream struct {
	subject string
	data    []byte
	err     error
}

func (f *fakeJetStream) Publish(subj string, data []byte, _ ...nats.PubOpt) (*nats.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subject = subj
	f.data = data
	return &nats.PubAck{Stream: "JOB_RADAR", Sequence: 7}, nil
}

func TestNATSSendPublishesPayload(t *testing.T) {
	js := &fakeJetStream{}
	n := &NATS{js: js, subject: "radar.test", logger: zap.NewNop()}

	msg := Compose(sampleListings(), time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC))
	if err := n.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if js.subject != "radar.test" {
		t.Fatalf("subject = %q", js.subject)
	}

	var payload natsPayload
	if err := json.Unmarshal(js.data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Subject != msg.Subject || len(payload.Listings) != 2 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	first := sampleListings()[0]
	if payload.Listings[0].ID != first.ID() || payload.Listings[0].Score != 0.85 {
		t.Fatalf("unexpected first listing %+v", payload.Listings[0])
	}
}

func TestNATSSendError(t *testing.T) {
	n := &NATS{js: &fakeJetStream{err: errors.New("no responders")}, subject: "radar.test", logger: zap.NewNop()}
	if err := n.Send(context.Background(), ComposeTest(time.Now())); err == nil {
		t.Fatal("expected publish error")
	}
}

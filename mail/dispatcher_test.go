package mail

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/MrEthical07/goIdentity/account"
)

type recordingSender struct {
	mu    sync.Mutex
	msgs  []Message
	block chan struct{}
	fail  bool
}

func (r *recordingSender) record(msg Message) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	if r.fail {
		return errors.New("smtp down")
	}
	return nil
}

func (r *recordingSender) SendOTP(_ context.Context, to, name, code string, purpose account.CodePurpose) error {
	return r.record(Message{Kind: KindOTP, To: to, Name: name, Code: code, Purpose: purpose})
}

func (r *recordingSender) SendTwoFactorChanged(_ context.Context, to, name string, enabled bool, method account.TwoFactorMethod) error {
	return r.record(Message{Kind: KindTwoFactorChanged, To: to, Name: name, Enabled: enabled, Method: method})
}

func (r *recordingSender) SendWelcome(_ context.Context, to, name string) error {
	return r.record(Message{Kind: KindWelcome, To: to, Name: name})
}

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(DispatcherConfig{BufferSize: 8, Workers: 2}, sender, nil)

	for i := 0; i < 5; i++ {
		if !d.Enqueue(Message{Kind: KindWelcome, To: "a@example.com"}) {
			t.Fatalf("enqueue %d rejected", i)
		}
	}
	if !d.Enqueue(Message{Kind: KindOTP, To: "a@example.com", Code: "123456", Purpose: account.PurposePasswordReset}) {
		t.Fatal("otp enqueue rejected")
	}
	d.Close()

	if got := d.Sent(); got != 6 {
		t.Fatalf("expected 6 sent, got %d", got)
	}
	if d.Enqueue(Message{Kind: KindWelcome}) {
		t.Fatal("expected enqueue after close to be rejected")
	}

	var sawOTP bool
	for _, m := range sender.msgs {
		if m.Kind == KindOTP && m.Code == "123456" && m.Purpose == account.PurposePasswordReset {
			sawOTP = true
		}
	}
	if !sawOTP {
		t.Fatal("expected otp message to reach sender")
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sender := &recordingSender{block: make(chan struct{})}
	d := NewDispatcher(DispatcherConfig{BufferSize: 1, Workers: 1}, sender, nil)

	accepted := 0
	for i := 0; i < 10; i++ {
		if d.Enqueue(Message{Kind: KindWelcome, To: "b@example.com"}) {
			accepted++
		}
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a blocked worker")
	}
	if uint64(accepted)+d.Dropped() != 10 {
		t.Fatalf("accepted %d + dropped %d != 10", accepted, d.Dropped())
	}
	close(sender.block)
	d.Close()
}

func TestDispatcherCountsFailures(t *testing.T) {
	sender := &recordingSender{fail: true}
	d := NewDispatcher(DispatcherConfig{}, sender, nil)
	d.Enqueue(Message{Kind: KindWelcome, To: "c@example.com"})
	d.Enqueue(Message{To: "c@example.com"})
	d.Close()

	if d.Failed() != 2 {
		t.Fatalf("expected 2 failures, got %d", d.Failed())
	}
}

func TestRenderOTPPerPurpose(t *testing.T) {
	r, err := Render("Academy", 10, Message{Kind: KindOTP, Name: "Ada", Code: "042042", Purpose: account.PurposePasswordReset})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(r.Subject, "Reset") || !strings.Contains(r.Text, "042042") || !strings.Contains(r.HTML, "042042") {
		t.Fatalf("unexpected rendering %+v", r)
	}

	r, err = Render("Academy", 10, Message{Kind: KindTwoFactorChanged, Name: "<b>x</b>", Enabled: true, Method: account.MethodAuthenticator})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if strings.Contains(r.HTML, "<b>x</b>") {
		t.Fatal("expected html body to escape the name")
	}
	if !strings.Contains(r.Text, "enabled (authenticator)") {
		t.Fatalf("unexpected text %q", r.Text)
	}

	if _, err := Render("Academy", 10, Message{}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

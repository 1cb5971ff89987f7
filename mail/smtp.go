package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/MrEthical07/goIdentity/account"
	"github.com/jordan-wright/email"
)

// SMTPConfig configures SMTPSender.
type SMTPConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	From               string        `yaml:"from"`
	Connections        int           `yaml:"connections"`
	SendTimeout        time.Duration `yaml:"send_timeout"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	Product            string        `yaml:"product"`
	CodeMinutes        int           `yaml:"code_minutes"`
}

// Address returns host:port.
func (c SMTPConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks the fields required to open a pool.
func (c SMTPConfig) Validate() error {
	if c.Host == "" {
		return errors.New("smtp host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("smtp port is invalid")
	}
	if c.From == "" {
		return errors.New("smtp from address is required")
	}
	return nil
}

// SMTPSender delivers mail through a pooled SMTP connection set.
type SMTPSender struct {
	cfg  SMTPConfig
	pool *email.Pool
}

// NewSMTPSender opens a connection pool against cfg.Address().
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Connections <= 0 {
		cfg.Connections = 2
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.Product == "" {
		cfg.Product = "goIdentity"
	}
	if cfg.CodeMinutes <= 0 {
		cfg.CodeMinutes = 10
	}

	var auth smtp.Auth
	if cfg.Username != "" || cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	tlsConfig := &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for local relays
	}

	pool, err := email.NewPool(cfg.Address(), cfg.Connections, auth, tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("smtp pool: %w", err)
	}
	return &SMTPSender{cfg: cfg, pool: pool}, nil
}

// Close releases pooled connections.
func (s *SMTPSender) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

func (s *SMTPSender) SendOTP(ctx context.Context, to, name, code string, purpose account.CodePurpose) error {
	return s.send(ctx, Message{Kind: KindOTP, To: to, Name: name, Code: code, Purpose: purpose})
}

func (s *SMTPSender) SendTwoFactorChanged(ctx context.Context, to, name string, enabled bool, method account.TwoFactorMethod) error {
	return s.send(ctx, Message{Kind: KindTwoFactorChanged, To: to, Name: name, Enabled: enabled, Method: method})
}

func (s *SMTPSender) SendWelcome(ctx context.Context, to, name string) error {
	return s.send(ctx, Message{Kind: KindWelcome, To: to, Name: name})
}

func (s *SMTPSender) send(ctx context.Context, msg Message) error {
	rendered, err := Render(s.cfg.Product, s.cfg.CodeMinutes, msg)
	if err != nil {
		return err
	}

	timeout := s.cfg.SendTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}

	e := email.NewEmail()
	e.From = s.cfg.From
	e.To = []string{msg.To}
	e.Subject = rendered.Subject
	e.Text = []byte(rendered.Text)
	e.HTML = []byte(rendered.HTML)
	return s.pool.Send(e, timeout)
}

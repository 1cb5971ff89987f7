package mail

import (
	"bytes"
	"errors"
	htmltemplate "html/template"
	"text/template"

	"github.com/MrEthical07/goIdentity/account"
)

// ErrUnknownKind is returned for a Message with an unset or unknown Kind.
var ErrUnknownKind = errors.New("unknown mail kind")

// Rendered is a composed email ready for transport.
type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

type templateData struct {
	Product string
	Name    string
	Code    string
	Minutes int
	Enabled bool
	Method  string
}

var (
	otpText = template.Must(template.New("otp").Parse(
		`Hello {{.Name}},

Your {{.Product}} code is {{.Code}}. It expires in {{.Minutes}} minutes.

If you did not request this code you can ignore this email.
`))
	otpHTML = htmltemplate.Must(htmltemplate.New("otp_html").Parse(
		`<p>Hello {{.Name}},</p><p>Your {{.Product}} code is <strong>{{.Code}}</strong>. It expires in {{.Minutes}} minutes.</p><p>If you did not request this code you can ignore this email.</p>`))

	twoFactorText = template.Must(template.New("two_factor").Parse(
		`Hello {{.Name}},

Two-factor authentication was {{if .Enabled}}enabled ({{.Method}}){{else}}disabled{{end}} on your {{.Product}} account.

If this was not you, reset your password immediately.
`))
	twoFactorHTML = htmltemplate.Must(htmltemplate.New("two_factor_html").Parse(
		`<p>Hello {{.Name}},</p><p>Two-factor authentication was {{if .Enabled}}enabled ({{.Method}}){{else}}disabled{{end}} on your {{.Product}} account.</p><p>If this was not you, reset your password immediately.</p>`))

	welcomeText = template.Must(template.New("welcome").Parse(
		`Hello {{.Name}},

Your email is confirmed. Welcome to {{.Product}}!
`))
	welcomeHTML = htmltemplate.Must(htmltemplate.New("welcome_html").Parse(
		`<p>Hello {{.Name}},</p><p>Your email is confirmed. Welcome to {{.Product}}!</p>`))
)

func otpSubject(product string, purpose account.CodePurpose) string {
	switch purpose {
	case account.PurposeEmailVerification:
		return "Confirm your " + product + " email"
	case account.PurposePasswordReset:
		return "Reset your " + product + " password"
	case account.PurposeTwoFactorEmail:
		return "Your " + product + " sign-in code"
	default:
		return "Your " + product + " code"
	}
}

// Render composes msg for product. codeMinutes is the code lifetime quoted in
// OTP emails.
func Render(product string, codeMinutes int, msg Message) (Rendered, error) {
	data := templateData{
		Product: product,
		Name:    msg.Name,
		Code:    msg.Code,
		Minutes: codeMinutes,
		Enabled: msg.Enabled,
		Method:  string(msg.Method),
	}
	if data.Name == "" {
		data.Name = "there"
	}

	var subject string
	var text *template.Template
	var html *htmltemplate.Template
	switch msg.Kind {
	case KindOTP:
		subject = otpSubject(product, msg.Purpose)
		text, html = otpText, otpHTML
	case KindTwoFactorChanged:
		subject = "Your " + product + " security settings changed"
		text, html = twoFactorText, twoFactorHTML
	case KindWelcome:
		subject = "Welcome to " + product
		text, html = welcomeText, welcomeHTML
	default:
		return Rendered{}, ErrUnknownKind
	}

	var tb, hb bytes.Buffer
	if err := text.Execute(&tb, data); err != nil {
		return Rendered{}, err
	}
	if err := html.Execute(&hb, data); err != nil {
		return Rendered{}, err
	}
	return Rendered{Subject: subject, Text: tb.String(), HTML: hb.String()}, nil
}

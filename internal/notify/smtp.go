package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"text/template"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

// SMTPConfig holds outgoing mail settings.
type SMTPConfig struct {
	Host     string `env:"SMTP_HOST" envDefault:"localhost"`
	Port     string `env:"SMTP_PORT" envDefault:"587"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"SMTP_FROM" envDefault:"seminars@example.edu"`
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPGateway delivers messages as e-mail. Approval requests and promotion
// offers carry a QR code of the approve link for scanning from a phone.
type SMTPGateway struct {
	cfg  SMTPConfig
	send SendFunc
}

// NewSMTPGateway returns a gateway sending through cfg. A nil send uses
// smtp.SendMail.
func NewSMTPGateway(cfg SMTPConfig, send SendFunc) *SMTPGateway {
	if send == nil {
		send = smtp.SendMail
	}
	return &SMTPGateway{cfg: cfg, send: send}
}

var templates = template.Must(template.New("mail").Funcs(template.FuncMap{
	"when": func(t time.Time) string { return t.UTC().Format("Mon 2 Jan 2006 15:04 MST") },
}).Parse(`
{{define "approval"}}Dear {{with .Details.SupervisorName}}{{.}}{{else}}supervisor{{end}},

{{.PresenterID}} asked to present "{{.Details.Topic}}" ({{.Details.Degree}}) in the
seminar slot on {{.Slot.Date}} {{.Slot.StartTime}}-{{.Slot.EndTime}}, {{.Slot.Building}} {{.Slot.Room}}.

Approve: {{.ApproveURL}}
Decline: {{.DeclineURL}}

The links stay valid until {{when .ExpiresAt}}. The seat is held until then.
{{end}}
{{define "reminder"}}Reminder: the registration of {{.PresenterID}} for the seminar slot on
{{.Slot.Date}} {{.Slot.StartTime}}-{{.Slot.EndTime}} is still waiting for supervisor approval.

Approve: {{.ApproveURL}}
Decline: {{.DeclineURL}}

The request expires at {{when .ExpiresAt}}.
{{end}}
{{define "offer"}}Hello {{.PresenterID}},

A seat opened in the seminar slot on {{.Slot.Date}} {{.Slot.StartTime}}-{{.Slot.EndTime}},
{{.Slot.Building}} {{.Slot.Room}}, and you were next on the waiting list.

Confirm: {{.ApproveURL}}
Decline: {{.DeclineURL}}

The offer expires at {{when .ExpiresAt}}; after that the seat goes to the next person.
{{end}}
{{define "decision"}}Hello {{.PresenterID}},

Your registration for the seminar slot on {{.Slot.Date}} {{.Slot.StartTime}}-{{.Slot.EndTime}}
is now {{.Status}}.{{with .Reason}}

Reason: {{.}}{{end}}
{{end}}
`))

// email is one rendered message.
type email struct {
	To      []string
	Subject string
	Body    string
	QRLink  string
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

func (g *SMTPGateway) SendApprovalRequest(ctx context.Context, msg ApprovalRequest) error {
	body, err := render("approval", msg)
	if err != nil {
		return err
	}
	return g.deliver(ctx, email{
		To:      []string{msg.Details.SupervisorEmail},
		Subject: fmt.Sprintf("Approval needed: %s on %s", msg.PresenterID, msg.Slot.Date),
		Body:    body,
		QRLink:  msg.ApproveURL,
	})
}

func (g *SMTPGateway) SendReminder(ctx context.Context, msg Reminder) error {
	body, err := render("reminder", msg)
	if err != nil {
		return err
	}
	return g.deliver(ctx, email{
		To:      recipients(msg.Details.SupervisorEmail, msg.Details.PresenterEmail),
		Subject: fmt.Sprintf("Reminder: approval pending for %s on %s", msg.PresenterID, msg.Slot.Date),
		Body:    body,
	})
}

func (g *SMTPGateway) SendPromotionOffer(ctx context.Context, msg PromotionOffer) error {
	body, err := render("offer", msg)
	if err != nil {
		return err
	}
	return g.deliver(ctx, email{
		To:      recipients(msg.Details.PresenterEmail, msg.Details.SupervisorEmail),
		Subject: fmt.Sprintf("A seminar seat opened on %s", msg.Slot.Date),
		Body:    body,
		QRLink:  msg.ApproveURL,
	})
}

func (g *SMTPGateway) SendDecision(ctx context.Context, msg Decision) error {
	to := recipients(msg.Details.PresenterEmail)
	if len(to) == 0 {
		return nil
	}
	body, err := render("decision", msg)
	if err != nil {
		return err
	}
	return g.deliver(ctx, email{
		To:      to,
		Subject: fmt.Sprintf("Registration %s for %s", strings.ToLower(msg.Status.String()), msg.Slot.Date),
		Body:    body,
	})
}

func recipients(addrs ...string) []string {
	var out []string
	for _, a := range addrs {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (g *SMTPGateway) deliver(ctx context.Context, m email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(m.To) == 0 {
		return fmt.Errorf("send %q: no recipients", m.Subject)
	}
	raw, err := compose(g.cfg.From, m)
	if err != nil {
		return err
	}
	var auth smtp.Auth
	if g.cfg.Username != "" {
		auth = smtp.PlainAuth("", g.cfg.Username, g.cfg.Password, g.cfg.Host)
	}
	addr := net.JoinHostPort(g.cfg.Host, g.cfg.Port)
	if err := g.send(addr, auth, g.cfg.From, m.To, raw); err != nil {
		return fmt.Errorf("send %q: %w", m.Subject, err)
	}
	return nil
}

// compose builds a multipart/mixed message: the text body plus, when
// QRLink is set, a PNG QR code of that link.
func compose(from string, m email) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(m.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", w.Boundary())

	text, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/plain; charset=utf-8"},
		"Content-Transfer-Encoding": {"8bit"},
	})
	if err != nil {
		return nil, fmt.Errorf("compose body: %w", err)
	}
	if _, err := text.Write([]byte(strings.ReplaceAll(m.Body, "\n", "\r\n"))); err != nil {
		return nil, fmt.Errorf("compose body: %w", err)
	}

	if m.QRLink != "" {
		png, err := qrcode.Encode(m.QRLink, qrcode.Medium, 256)
		if err != nil {
			return nil, fmt.Errorf("encode qr code: %w", err)
		}
		img, err := w.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {"image/png"},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {`attachment; filename="approve.png"`},
		})
		if err != nil {
			return nil, fmt.Errorf("compose qr code: %w", err)
		}
		if err := writeBase64Lines(img, png); err != nil {
			return nil, fmt.Errorf("compose qr code: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compose message: %w", err)
	}
	return buf.Bytes(), nil
}

func writeBase64Lines(w interface{ Write([]byte) (int, error) }, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		if _, err := w.Write([]byte(encoded[:76] + "\r\n")); err != nil {
			return err
		}
		encoded = encoded[76:]
	}
	_, err := w.Write([]byte(encoded + "\r\n"))
	return err
}

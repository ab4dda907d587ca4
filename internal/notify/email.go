package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/smtp"
	"net/textproto"
	"strconv"
	texttemplate "text/template"

	"jobwatch/internal/model"
)

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	FromEmail    string
}

// Enabled reports whether enough settings are present to send mail.
func (c EmailConfig) Enabled() bool {
	return c.SMTPHost != "" && c.FromEmail != ""
}

// SendMailFunc has the signature of smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailSender delivers notifications as multipart mail with a plain-text
// and an HTML alternative.
type EmailSender struct {
	cfg      EmailConfig
	html     *template.Template
	text     *texttemplate.Template
	sendMail SendMailFunc
}

const textTemplate = `Hi {{if .User.Name}}{{.User.Name}}{{else}}there{{end}},

A new job matches your search profile.

{{.Listing.Title}}
{{with .Listing.Company}}Company: {{.}}
{{end}}{{with .Listing.Location}}Location: {{.}}
{{end}}Type: {{.Listing.JobType}}
{{with .Salary}}Salary: {{.}}
{{end}}{{with .Listing.PostedDate}}Posted: {{.Format "Jan 02, 2006"}}
{{end}}{{if .Listing.Skills}}Skills: {{join .Listing.Skills ", "}}
{{end}}{{with .Summary}}
{{.}}
{{end}}{{with .Listing.ApplicationURL}}
Apply: {{.}}
{{end}}
Found on {{.Listing.SourceSite}}.
`

const emailTemplate = `<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: Arial, sans-serif; }
        .job { margin: 20px 0; padding: 15px; border: 1px solid #ddd; border-radius: 5px; }
        .title { color: #2c5282; font-size: 18px; margin-bottom: 5px; }
        .company { color: #4a5568; font-size: 16px; font-weight: bold; margin-bottom: 5px; }
        .meta { color: #718096; font-size: 14px; }
    </style>
</head>
<body>
    <p>Hi {{if .User.Name}}{{.User.Name}}{{else}}there{{end}},</p>
    <p>A new job matches your search profile.</p>
    <div class="job">
        <div class="title">{{.Listing.Title}}</div>
        {{if .Listing.Company}}<div class="company">{{.Listing.Company}}</div>{{end}}
        {{if .Listing.Location}}<div class="meta">Location: {{.Listing.Location}}</div>{{end}}
        <div class="meta">Type: {{.Listing.JobType}}</div>
        {{with .Salary}}<div class="meta">Salary: {{.}}</div>{{end}}
        {{with .Listing.PostedDate}}<div class="meta">Posted: {{.Format "Jan 02, 2006"}}</div>{{end}}
        {{if .Listing.Skills}}<div class="meta">Skills: {{join .Listing.Skills ", "}}</div>{{end}}
        {{with .Summary}}<p>{{.}}</p>{{end}}
        {{if .Listing.ApplicationURL}}<a href="{{.Listing.ApplicationURL}}">View job on {{.Listing.SourceSite}}</a>{{end}}
    </div>
</body>
</html>
`

type emailData struct {
	User    model.User
	Listing model.Listing
	Salary  string
	Summary string
}

// NewEmailSender creates an EmailSender using smtp.SendMail.
func NewEmailSender(cfg EmailConfig) *EmailSender {
	return NewEmailSenderWith(cfg, smtp.SendMail)
}

// NewEmailSenderWith creates an EmailSender with a custom transport
// (useful for testing).
func NewEmailSenderWith(cfg EmailConfig, send SendMailFunc) *EmailSender {
	return &EmailSender{
		cfg:      cfg,
		html:     template.Must(template.New("email").Funcs(template.FuncMap{"join": joinStrings}).Parse(emailTemplate)),
		text:     texttemplate.Must(texttemplate.New("email").Funcs(texttemplate.FuncMap{"join": joinStrings}).Parse(textTemplate)),
		sendMail: send,
	}
}

// Send mails the listing to u. The SMTP exchange itself cannot be
// interrupted; Send returns when ctx ends and leaves it to finish.
func (e *EmailSender) Send(ctx context.Context, _ model.Notification, l model.Listing, u model.User) error {
	if u.Email == "" {
		return errors.New("user has no email address")
	}
	msg, err := e.message(l, u)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if e.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", e.cfg.SMTPUsername, e.cfg.SMTPPassword, e.cfg.SMTPHost)
	}
	addr := e.cfg.SMTPHost + ":" + strconv.Itoa(e.cfg.SMTPPort)

	errc := make(chan error, 1)
	go func() {
		errc <- e.sendMail(addr, auth, e.cfg.FromEmail, []string{u.Email}, msg)
	}()
	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("sending mail: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sending mail: %w", ctx.Err())
	}
}

func (e *EmailSender) message(l model.Listing, u model.User) ([]byte, error) {
	data := emailData{User: u, Listing: l, Salary: FormatSalary(l), Summary: Truncate(l.Description, 500)}
	var text, html bytes.Buffer
	if err := e.text.Execute(&text, data); err != nil {
		return nil, fmt.Errorf("executing text template: %w", err)
	}
	if err := e.html.Execute(&html, data); err != nil {
		return nil, fmt.Errorf("executing html template: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	parts := []struct {
		contentType string
		content     []byte
	}{
		{"text/plain; charset=UTF-8", text.Bytes()},
		{"text/html; charset=UTF-8", html.Bytes()},
	}
	for _, p := range parts {
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, fmt.Errorf("creating part: %w", err)
		}
		qp := quotedprintable.NewWriter(w)
		if _, err := qp.Write(p.content); err != nil {
			return nil, fmt.Errorf("writing part: %w", err)
		}
		if err := qp.Close(); err != nil {
			return nil, fmt.Errorf("writing part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	headers := [][2]string{
		{"From", e.cfg.FromEmail},
		{"To", u.Email},
		{"Subject", mime.QEncoding.Encode("utf-8", Subject(l))},
		{"MIME-Version", "1.0"},
		{"Content-Type", mime.FormatMediaType("multipart/alternative", map[string]string{"boundary": mw.Boundary()})},
	}
	var msg bytes.Buffer
	for _, h := range headers {
		fmt.Fprintf(&msg, "%s: %s\r\n", h[0], h[1])
	}
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

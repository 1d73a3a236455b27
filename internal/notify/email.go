package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/sells-group/engine-watch/internal/config"
)

// implicitTLSPort expects TLS from the first byte. Other ports start in
// plaintext and upgrade with STARTTLS when the server offers it.
const implicitTLSPort = 465

const sendTimeout = 2 * time.Minute

// EmailNotifier sends summaries over SMTP to every configured recipient.
type EmailNotifier struct {
	cfg       config.NotifyConfig
	tlsConfig *tls.Config
	now       func() time.Time
	log       *zap.Logger
}

// NewEmailNotifier creates an SMTP notifier.
func NewEmailNotifier(cfg config.NotifyConfig) *EmailNotifier {
	return &EmailNotifier{
		cfg:       cfg,
		tlsConfig: &tls.Config{ServerName: cfg.SMTPHost, MinVersion: tls.VersionTLS12},
		now:       time.Now,
		log:       zap.L().With(zap.String("component", "notify.email")),
	}
}

func (e *EmailNotifier) from() string {
	if e.cfg.From != "" {
		return e.cfg.From
	}
	return e.cfg.Username
}

// Notify sends the HTML summary with the optional attachment.
func (e *EmailNotifier) Notify(ctx context.Context, msg Message) error {
	if len(e.cfg.Recipients) == 0 {
		return &NotificationError{Notifier: "email", Err: eris.New("no recipients configured")}
	}
	if e.from() == "" {
		return &NotificationError{Notifier: "email", Err: eris.New("no sender configured")}
	}

	m, err := e.compose(msg)
	if err != nil {
		return &NotificationError{Notifier: "email", Err: err}
	}
	if err := e.send(ctx, m); err != nil {
		return &NotificationError{Notifier: "email", Err: err}
	}

	e.log.Info("email notification sent",
		zap.Int("recipients", len(e.cfg.Recipients)),
		zap.Bool("attachment", msg.AttachmentPath != ""),
	)
	return nil
}

func (e *EmailNotifier) compose(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(e.from()); err != nil {
		return nil, eris.Wrap(err, "email: sender")
	}
	if err := m.To(e.cfg.Recipients...); err != nil {
		return nil, eris.Wrap(err, "email: recipients")
	}
	m.Subject(msg.Subject)
	m.SetDateWithValue(e.now())
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)

	if msg.AttachmentPath != "" {
		data, err := os.ReadFile(msg.AttachmentPath)
		if err != nil {
			return nil, eris.Wrap(err, "email: read attachment")
		}
		name := filepath.Base(msg.AttachmentPath)
		if err := m.AttachReader(name, bytes.NewReader(data), mail.WithFileContentType(attachmentType(name))); err != nil {
			return nil, eris.Wrap(err, "email: attach "+name)
		}
	}
	return m, nil
}

func (e *EmailNotifier) client() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(e.cfg.SMTPPort),
		mail.WithTimeout(sendTimeout),
		mail.WithTLSConfig(e.tlsConfig),
	}
	if e.cfg.SMTPPort == implicitTLSPort {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	// A configured username must authenticate; go-mail fails the dial when
	// the server offers no AUTH.
	if e.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(e.cfg.Username),
			mail.WithPassword(e.cfg.Password),
		)
	}
	c, err := mail.NewClient(e.cfg.SMTPHost, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "email: configure client")
	}
	return c, nil
}

func (e *EmailNotifier) send(ctx context.Context, m *mail.Msg) error {
	c, err := e.client()
	if err != nil {
		return err
	}
	addr := fmt.Sprintf("%s:%d", e.cfg.SMTPHost, e.cfg.SMTPPort)
	if err := c.DialWithContext(ctx); err != nil {
		return eris.Wrapf(err, "email: dial %s", addr)
	}
	if err := c.Send(m); err != nil {
		_ = c.Close()
		return eris.Wrapf(err, "email: send via %s", addr)
	}
	return eris.Wrap(c.Close(), "email: quit")
}

func attachmentType(name string) mail.ContentType {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

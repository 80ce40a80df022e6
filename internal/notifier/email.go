package notifier

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/logger"
	"go.uber.org/zap"
)

// SMTPConfig addresses an SMTP relay. Username empty means no auth.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sendMailFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier sends HTML email through an SMTP relay.
type EmailNotifier struct {
	config   SMTPConfig
	sendMail sendMailFunc
	clock    func() time.Time
	log      *zap.SugaredLogger
}

func NewEmailNotifier(cfg SMTPConfig) *EmailNotifier {
	return &EmailNotifier{
		config:   cfg,
		sendMail: smtp.SendMail,
		clock:    time.Now,
		log:      logger.For(logger.ComponentNotifier).Named("email"),
	}
}

func (n *EmailNotifier) Configured() bool {
	return n.config.Host != "" && n.config.From != ""
}

// Send delivers one message. It returns false when SMTP is not configured or
// the relay refused the message.
func (n *EmailNotifier) Send(ctx context.Context, to, subject, html string) bool {
	if !n.Configured() {
		n.log.Infof("Email not configured, skipping %q to %s", subject, to)
		return false
	}
	if to == "" {
		n.log.Warnf("Email %q has no recipient", subject)
		return false
	}
	if err := ctx.Err(); err != nil {
		n.log.Warnf("Email %q to %s cancelled: %v", subject, to, err)
		return false
	}

	port := n.config.Port
	if port == 0 {
		port = 587
	}
	addr := net.JoinHostPort(n.config.Host, strconv.Itoa(port))

	var auth smtp.Auth
	if n.config.Username != "" {
		auth = smtp.PlainAuth("", n.config.Username, n.config.Password, n.config.Host)
	}

	msg := n.buildMessage(to, subject, html)
	if err := n.sendMail(addr, auth, n.config.From, []string{to}, msg); err != nil {
		n.log.Errorf("Failed to send email %q to %s: %v", subject, to, err)
		return false
	}

	n.log.Debugf("Email sent to %s: %s", to, subject)
	return true
}

func (n *EmailNotifier) buildMessage(to, subject, html string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.config.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", n.clock().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(html)
	return []byte(b.String())
}

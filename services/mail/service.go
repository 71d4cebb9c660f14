package mail

import (
	"bytes"
	"errors"
	"fmt"
	htmlTemplate "html/template"
	"os"
	"path/filepath"
	textTemplate "text/template"
	"time"

	"github.com/fintrac/authcore/config"
	"github.com/fintrac/authcore/services/logging"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

var (
	ErrFromAddressRequired = errors.New("MAIL_FROM_ADDRESS is required")
	ErrTemplateNotFound    = errors.New("mail template not found")
)

// Client is the part of the go-mail client the service needs.
type Client interface {
	DialAndSend(messages ...*mail.Msg) error
}

type Service struct {
	config        *config.MailConfig
	client        Client
	htmlTemplates *htmlTemplate.Template
	textTemplates *textTemplate.Template
	logger        *logging.Service
}

func NewService(cfg *config.MailConfig, logger *logging.Service) (*Service, error) {
	client, err := newClient(cfg)
	if err != nil {
		logger.Error("failed to create mail client",
			zap.String("host", cfg.Host),
			zap.Int("port", cfg.Port),
			zap.Error(err))
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}
	return NewServiceWithClient(cfg, logger, client)
}

func NewServiceWithClient(cfg *config.MailConfig, logger *logging.Service, client Client) (*Service, error) {
	if cfg.FromAddress == "" {
		logger.Error("mail service initialization failed: from address is required")
		return nil, ErrFromAddressRequired
	}

	service := &Service{
		config: cfg,
		client: client,
		logger: logger,
	}

	if err := service.loadTemplates(); err != nil {
		return nil, fmt.Errorf("failed to load mail templates: %w", err)
	}

	logger.Info("mail service initialized",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("encryption", cfg.Encryption))
	return service, nil
}

func newClient(cfg *config.MailConfig) (*mail.Client, error) {
	opts := []mail.Option{mail.WithPort(cfg.Port)}

	switch cfg.Encryption {
	case "ssl":
		opts = append(opts, mail.WithSSL())
	case "none":
		opts = append(opts, mail.WithTLSPortPolicy(mail.NoTLS))
	default:
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	}

	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password))
	}

	return mail.NewClient(cfg.Host, opts...)
}

// loadTemplates parses *.html and *.txt from the templates directory. A
// missing or empty directory leaves the service on fallback bodies.
func (s *Service) loadTemplates() error {
	dir := s.config.TemplatesDir
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); err != nil {
		s.logger.Warn("mail templates directory not readable", zap.String("dir", dir), zap.Error(err))
		return nil
	}

	htmlFiles, _ := filepath.Glob(filepath.Join(dir, "*.html"))
	textFiles, _ := filepath.Glob(filepath.Join(dir, "*.txt"))

	var err error
	if len(htmlFiles) > 0 {
		if s.htmlTemplates, err = htmlTemplate.ParseFiles(htmlFiles...); err != nil {
			s.logger.Error("failed to parse HTML templates", zap.String("dir", dir), zap.Error(err))
			return fmt.Errorf("failed to parse HTML templates: %w", err)
		}
	}
	if len(textFiles) > 0 {
		if s.textTemplates, err = textTemplate.ParseFiles(textFiles...); err != nil {
			s.logger.Error("failed to parse text templates", zap.String("dir", dir), zap.Error(err))
			return fmt.Errorf("failed to parse text templates: %w", err)
		}
	}

	s.logger.Info("mail templates loaded",
		zap.Int("html_templates", len(htmlFiles)),
		zap.Int("text_templates", len(textFiles)))
	return nil
}

func (s *Service) newMessage(to []string, subject string) (*mail.Msg, error) {
	message := mail.NewMsg()

	from := s.config.FromAddress
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.FromAddress)
	}
	if err := message.From(from); err != nil {
		return nil, fmt.Errorf("failed to set FROM address: %w", err)
	}
	if err := message.To(to...); err != nil {
		return nil, fmt.Errorf("failed to set TO addresses: %w", err)
	}
	message.Subject(subject)
	return message, nil
}

func (s *Service) send(message *mail.Msg) error {
	start := time.Now()
	if err := s.client.DialAndSend(message); err != nil {
		s.logger.Error("failed to send email",
			zap.Duration("attempt_duration", time.Since(start)),
			zap.Error(err))
		return fmt.Errorf("failed to send email: %w", err)
	}
	s.logger.Debug("email sent", zap.Duration("send_duration", time.Since(start)))
	return nil
}

// HasTemplate reports whether name has an html or text variant.
func (s *Service) HasTemplate(name string) bool {
	if s.htmlTemplates != nil && s.htmlTemplates.Lookup(name+".html") != nil {
		return true
	}
	return s.textTemplates != nil && s.textTemplates.Lookup(name+".txt") != nil
}

// SendTemplate renders name.html and name.txt (either may be absent) and
// sends the result. ErrTemplateNotFound is returned when neither exists.
func (s *Service) SendTemplate(name string, to []string, subject string, data map[string]any) error {
	message, err := s.newMessage(to, subject)
	if err != nil {
		return err
	}
	if err := s.render(name, data, message); err != nil {
		return err
	}
	return s.send(message)
}

func (s *Service) render(name string, data map[string]any, message *mail.Msg) error {
	var rendered bool

	if s.htmlTemplates != nil {
		if tmpl := s.htmlTemplates.Lookup(name + ".html"); tmpl != nil {
			var buf bytes.Buffer
			if err := tmpl.Execute(&buf, data); err != nil {
				return fmt.Errorf("failed to execute HTML template %s: %w", name, err)
			}
			message.SetBodyString(mail.TypeTextHTML, buf.String())
			rendered = true
		}
	}

	if s.textTemplates != nil {
		if tmpl := s.textTemplates.Lookup(name + ".txt"); tmpl != nil {
			var buf bytes.Buffer
			if err := tmpl.Execute(&buf, data); err != nil {
				return fmt.Errorf("failed to execute text template %s: %w", name, err)
			}
			if rendered {
				message.AddAlternativeString(mail.TypeTextPlain, buf.String())
			} else {
				message.SetBodyString(mail.TypeTextPlain, buf.String())
			}
			rendered = true
		}
	}

	if !rendered {
		return fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	return nil
}

func (s *Service) SendPlain(to []string, subject, body string) error {
	message, err := s.newMessage(to, subject)
	if err != nil {
		return err
	}
	message.SetBodyString(mail.TypeTextPlain, body)
	return s.send(message)
}

package mail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fintrac/authcore/services/logging"
	"go.uber.org/zap"
)

const (
	TemplateVerificationCode  = "verification_code"
	TemplatePasswordResetCode = "password_reset_code"
	TemplateNewDeviceLogin    = "new_device_login"
)

type Mailer interface {
	SendTemplate(templateName string, to []string, subject string, data map[string]any) error
	SendPlain(to []string, subject, body string) error
}

// Message is one queued email. Fallback is sent as plain text when the
// mailer has no template named Template.
type Message struct {
	To       []string
	Subject  string
	Template string
	Data     map[string]any
	Fallback string
}

// Dispatcher delivers mail on a fixed pool of workers fed by a bounded
// queue. Enqueue never blocks the caller.
type Dispatcher struct {
	mailer  Mailer
	queue   chan Message
	workers int
	appName string
	logger  *logging.Service

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(mailer Mailer, workers, queueSize int, appName string, logger *logging.Service) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		mailer:  mailer,
		queue:   make(chan Message, queueSize),
		workers: workers,
		appName: appName,
		logger:  logger,
	}
}

func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	d.logger.Info("mail dispatcher started", zap.Int("workers", d.workers), zap.Int("queue_size", cap(d.queue)))
}

// Stop closes the queue and waits for queued messages to drain or ctx to end.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("mail dispatcher drained")
		return nil
	case <-ctx.Done():
		d.logger.Warn("mail dispatcher stopped before queue drained", zap.Int("pending", len(d.queue)))
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg Message) {
	err := d.mailer.SendTemplate(msg.Template, msg.To, msg.Subject, msg.Data)
	if errors.Is(err, ErrTemplateNotFound) && msg.Fallback != "" {
		err = d.mailer.SendPlain(msg.To, msg.Subject, msg.Fallback)
	}
	if err != nil {
		d.logger.Error("failed to deliver email",
			zap.String("template", msg.Template),
			zap.Int("recipients", len(msg.To)),
			zap.Error(err))
	}
}

// Enqueue reports whether msg was accepted. Messages are dropped when the
// queue is full or the dispatcher has stopped.
func (d *Dispatcher) Enqueue(msg Message) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("mail dispatcher stopped, dropping message", zap.String("template", msg.Template))
		return false
	}

	select {
	case d.queue <- msg:
		return true
	default:
		d.logger.Warn("mail queue full, dropping message", zap.String("template", msg.Template))
		return false
	}
}

func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

func (d *Dispatcher) SendVerificationCode(ctx context.Context, to, name, code string, expiry time.Duration) {
	minutes := int(expiry.Minutes())
	d.Enqueue(Message{
		To:       []string{to},
		Subject:  "Verify your email address",
		Template: TemplateVerificationCode,
		Data: map[string]any{
			"Name":          name,
			"Code":          code,
			"ExpiryMinutes": minutes,
			"AppName":       d.appName,
		},
		Fallback: fmt.Sprintf("Hi %s,\n\nYour %s verification code is %s. It expires in %d minutes.\n\nIf you did not create an account, you can ignore this email.\n",
			name, d.appName, code, minutes),
	})
}

func (d *Dispatcher) SendPasswordResetCode(ctx context.Context, to, name, code string, expiry time.Duration) {
	minutes := int(expiry.Minutes())
	d.Enqueue(Message{
		To:       []string{to},
		Subject:  "Reset your password",
		Template: TemplatePasswordResetCode,
		Data: map[string]any{
			"Name":          name,
			"Code":          code,
			"ExpiryMinutes": minutes,
			"AppName":       d.appName,
		},
		Fallback: fmt.Sprintf("Hi %s,\n\nUse the code %s to reset your %s password. It expires in %d minutes.\n\nIf you did not request a reset, you can ignore this email.\n",
			name, code, d.appName, minutes),
	})
}

func (d *Dispatcher) SendNewDeviceAlert(ctx context.Context, to, name, deviceName, ipAddress string, at time.Time) {
	loginTime := at.UTC().Format("January 02, 2006 at 03:04 PM MST")
	if ipAddress == "" {
		ipAddress = "unknown"
	}
	d.Enqueue(Message{
		To:       []string{to},
		Subject:  "New sign-in to your account",
		Template: TemplateNewDeviceLogin,
		Data: map[string]any{
			"Name":       name,
			"DeviceName": deviceName,
			"IPAddress":  ipAddress,
			"LoginTime":  loginTime,
			"AppName":    d.appName,
		},
		Fallback: fmt.Sprintf("Hi %s,\n\nYour %s account was signed in from a new device.\n\nDevice: %s\nIP address: %s\nTime: %s\n\nIf this was not you, reset your password immediately.\n",
			name, d.appName, deviceName, ipAddress, loginTime),
	})
}

// LogMailer stands in for SMTP when mail is disabled. It records what would
// have been sent without message bodies.
type LogMailer struct {
	logger *logging.Service
}

func NewLogMailer(logger *logging.Service) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendTemplate(templateName string, to []string, subject string, data map[string]any) error {
	m.logger.Info("mail disabled, skipping template email",
		zap.String("template", templateName),
		zap.Strings("recipients", to),
		zap.String("subject", subject))
	return nil
}

func (m *LogMailer) SendPlain(to []string, subject, body string) error {
	m.logger.Info("mail disabled, skipping plain email",
		zap.Strings("recipients", to),
		zap.String("subject", subject))
	return nil
}

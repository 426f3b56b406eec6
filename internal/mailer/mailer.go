package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/devtrackhq/devtrack/internal/config"
	"github.com/devtrackhq/devtrack/internal/metrics"
	"github.com/devtrackhq/devtrack/internal/storage"
	"github.com/rs/zerolog"
)

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, mail storage.QueuedMail) error
}

// SMTPSender delivers mail over SMTP with plain auth.
type SMTPSender struct {
	Addr     string
	Username string
	Password string
	From     string
}

// Send delivers one message.
func (s *SMTPSender) Send(ctx context.Context, mail storage.QueuedMail) error {
	var auth smtp.Auth
	if s.Username != "" {
		host := s.Addr
		if idx := strings.LastIndex(host, ":"); idx >= 0 {
			host = host[:idx]
		}
		auth = smtp.PlainAuth("", s.Username, s.Password, host)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		s.From, mail.To, mail.Subject, mail.Body)

	if err := smtp.SendMail(s.Addr, auth, s.From, []string{mail.To}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", mail.To, err)
	}
	return nil
}

// LogSender writes mail to the log instead of delivering it. Used when no
// SMTP server is configured, so development setups still drain the queue.
type LogSender struct {
	Logger zerolog.Logger
}

// Send logs one message.
func (s *LogSender) Send(_ context.Context, mail storage.QueuedMail) error {
	s.Logger.Info().
		Str("to", mail.To).
		Str("subject", mail.Subject).
		Msg("Mail delivery skipped (no SMTP configured)")
	return nil
}

// Mailer drains the persistent mail queue in the background.
type Mailer struct {
	store        storage.MailStore
	sender       Sender
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	logger       zerolog.Logger
	stopChan     chan struct{}
}

// New creates a mailer from configuration.
func New(store storage.MailStore, cfg config.MailConfig, logger zerolog.Logger) (*Mailer, error) {
	pollInterval, err := time.ParseDuration(cfg.PollInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid poll_interval: %w", err)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	componentLogger := logger.With().Str("component", "mailer").Logger()

	var sender Sender
	if cfg.SMTPAddr != "" {
		sender = &SMTPSender{
			Addr:     cfg.SMTPAddr,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.From,
		}
	} else {
		sender = &LogSender{Logger: componentLogger}
	}

	return &Mailer{
		store:        store,
		sender:       sender,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		maxAttempts:  maxAttempts,
		logger:       componentLogger,
		stopChan:     make(chan struct{}),
	}, nil
}

// Enqueue adds a message to the queue.
func (m *Mailer) Enqueue(ctx context.Context, to, subject, body string) error {
	if err := m.store.Enqueue(ctx, storage.QueuedMail{
		To:      to,
		Subject: subject,
		Body:    body,
	}); err != nil {
		return fmt.Errorf("enqueue mail: %w", err)
	}
	metrics.MailEnqueued.Inc()
	return nil
}

// EnqueueWelcome queues the signup welcome message.
func (m *Mailer) EnqueueWelcome(ctx context.Context, user storage.User) error {
	name := user.DisplayName
	if name == "" {
		name = user.Email
	}
	body := fmt.Sprintf(
		"Hi %s,\n\nYour DevTrack account is ready. Create a project, start a session, and your daily streak begins today.\n",
		name,
	)
	return m.Enqueue(ctx, user.Email, "Welcome to DevTrack", body)
}

// Start begins the delivery worker.
func (m *Mailer) Start() {
	go m.run()
	m.logger.Info().
		Dur("poll_interval", m.pollInterval).
		Msg("Mail worker started")
}

// Stop stops the delivery worker.
func (m *Mailer) Stop() {
	close(m.stopChan)
	m.logger.Info().Msg("Mail worker stopped")
}

func (m *Mailer) run() {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.drain()
		case <-m.stopChan:
			return
		}
	}
}

// drain delivers one batch. Failed messages go back on the queue until
// they exhaust maxAttempts.
func (m *Mailer) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	batch, err := m.store.DequeueBatch(ctx, m.batchSize)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to dequeue mail batch")
		return
	}

	for _, mail := range batch {
		if err := m.sender.Send(ctx, mail); err != nil {
			metrics.MailFailed.Inc()
			mail.Attempts++
			if mail.Attempts >= m.maxAttempts {
				m.logger.Error().Err(err).
					Str("to", mail.To).
					Int("attempts", mail.Attempts).
					Msg("Dropping undeliverable mail")
				continue
			}
			m.logger.Warn().Err(err).
				Str("to", mail.To).
				Int("attempts", mail.Attempts).
				Msg("Mail delivery failed, requeueing")
			if err := m.store.Requeue(ctx, mail); err != nil {
				m.logger.Error().Err(err).Str("to", mail.To).Msg("Failed to requeue mail")
			}
			continue
		}
		metrics.MailSent.Inc()
		m.logger.Debug().Str("to", mail.To).Str("subject", mail.Subject).Msg("Mail delivered")
	}
}

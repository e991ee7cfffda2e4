package projection

import (
	"context"
	"log/slog"

	"github.com/eventfold/userd/pkg/domain"
	"github.com/eventfold/userd/pkg/storage"
	"github.com/eventfold/userd/pkg/storage/sqlite"
)

// Mailer delivers the welcome mail. Implementations must be safe to call from
// concurrent workers.
type Mailer interface {
	SendWelcome(ctx context.Context, email, username string) error
}

// UserCreatedEmail sends the welcome mail for a creation event. It never
// touches the users table; idempotence under redelivery comes from the
// processed-mail log keyed by event id.
type UserCreatedEmail struct {
	mailer Mailer
	log    *sqlite.EmailLog
	logger *slog.Logger
}

// NewUserCreatedEmail creates the welcome-mail projection.
func NewUserCreatedEmail(mailer Mailer, log *sqlite.EmailLog, logger *slog.Logger) *UserCreatedEmail {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserCreatedEmail{mailer: mailer, log: log, logger: logger}
}

func (p *UserCreatedEmail) Name() string { return NameUserCreatedEmail }

func (p *UserCreatedEmail) Apply(ctx context.Context, sess storage.Session, event domain.Event) error {
	var email, username string
	switch payload := event.Payload.(type) {
	case *domain.UserCreatedV1:
		email, username = payload.Email, payload.Username
	case *domain.UserCreatedV2:
		email, username = payload.Email, payload.Username
	default:
		return wrongPayload(p.Name(), event)
	}

	sent, err := p.log.AlreadySent(ctx, sess, event.ID)
	if err != nil {
		return err
	}
	if sent {
		p.logger.DebugContext(ctx, "welcome mail already sent, skipping",
			slog.String("event_id", event.ID))
		return nil
	}

	if err := p.mailer.SendWelcome(ctx, email, username); err != nil {
		return err
	}
	return p.log.MarkSent(ctx, sess, event.ID, event.AggregateID)
}

// LogMailer writes welcome mails to the log instead of sending them. Default
// collaborator until a real provider is configured.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a mailer that only logs.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendWelcome(ctx context.Context, email, username string) error {
	m.logger.InfoContext(ctx, "welcome mail",
		slog.String("email", email),
		slog.String("username", username))
	return nil
}

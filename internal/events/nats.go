package events

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"showcase/internal/infra"
)

// DefaultSubject prefixes every published subject.
const DefaultSubject = "showcase.jobs"

// NATS publishes events as JSON to "<subject>.<type>".
type NATS struct {
	nc      *nats.Conn
	subject string
	logger  *infra.Logger
}

// ConnectNATS dials url with reconnects enabled.
func ConnectNATS(url, subject string, logger *infra.Logger) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("showcase"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &NATS{nc: nc, subject: normalizeSubject(subject), logger: logger}, nil
}

// Publish implements Publisher.
func (n *NATS) Publish(_ context.Context, ev Event) {
	subject := n.subjectFor(ev.Type)
	data, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error().Err(err).Str("job_id", ev.JobID).Msg("encode lifecycle event failed")
		return
	}
	if err := n.nc.Publish(subject, data); err != nil {
		n.logger.Error().Err(err).Str("job_id", ev.JobID).Str("subject", subject).Msg("publish lifecycle event failed")
	}
}

// Close drains pending messages and closes the connection.
func (n *NATS) Close() {
	if n.nc != nil {
		_ = n.nc.Drain()
	}
}

func (n *NATS) subjectFor(typ string) string {
	return n.subject + "." + typ
}

func normalizeSubject(subject string) string {
	subject = strings.Trim(strings.TrimSpace(subject), ".")
	if subject == "" {
		return DefaultSubject
	}
	return subject
}

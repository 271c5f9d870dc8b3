// Package gateway accepts CloudEvents over HTTP and forwards them to the
// journal, NATS and the live tail.
package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/primaryrutabaga/ruby-gateway/pkg/cehttp"
	"github.com/primaryrutabaga/ruby-gateway/pkg/metrics"
	"github.com/primaryrutabaga/ruby-gateway/pkg/schemas"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-Id"

// Journal persists the events of one request atomically.
type Journal interface {
	Append(ctx context.Context, requestID string, events []schemas.CloudEvent) error
}

// Publisher sends one event on a NATS subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, ce schemas.CloudEvent) error
}

// Broadcaster receives every accepted event.
type Broadcaster interface {
	Broadcast(ce schemas.CloudEvent)
}

// Handler is the ingest endpoint.
type Handler struct {
	logger    *zap.Logger
	metrics   *metrics.Metrics
	router    *Router
	publisher Publisher
	journal   Journal
	tail      Broadcaster
	maxBody   int64
}

type Option func(*Handler)

// WithJournal enables journaling. Without it journal actions are skipped.
func WithJournal(j Journal) Option {
	return func(h *Handler) { h.journal = j }
}

// WithTail broadcasts accepted events to b.
func WithTail(b Broadcaster) Option {
	return func(h *Handler) { h.tail = b }
}

func New(logger *zap.Logger, m *metrics.Metrics, router *Router, pub Publisher, maxBody int64, opts ...Option) *Handler {
	h := &Handler{
		logger:    logger,
		metrics:   m,
		router:    router,
		publisher: pub,
		maxBody:   maxBody,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// result is the outcome of one ingest request.
type result struct {
	code   int
	mode   cehttp.Mode
	events int
	err    error
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	requestID := r.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(HeaderRequestID, requestID)
	logger := h.logger.With(zap.String("request_id", requestID))

	res := h.ingest(w, r, requestID, logger)
	if res.err != nil {
		http.Error(w, res.err.Error(), res.code)
	} else {
		w.WriteHeader(res.code)
	}

	elapsed := time.Since(start)
	h.metrics.ObserveRequest(res.code, elapsed)

	fields := []zap.Field{
		zap.Int("code", res.code),
		zap.Stringer("mode", res.mode),
		zap.Int("events", res.events),
		zap.Duration("duration", elapsed),
	}
	switch {
	case res.code >= http.StatusInternalServerError:
		logger.Error("ingest failed", append(fields, zap.Error(res.err))...)
	case res.err != nil:
		logger.Info("ingest rejected", append(fields, zap.Error(res.err))...)
	default:
		logger.Info("ingest", fields...)
	}
}

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request, requestID string, logger *zap.Logger) result {
	mode := cehttp.ModeOf(r.Header.Get("Content-Type"))

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		return result{code: http.StatusMethodNotAllowed, mode: mode, err: errors.New("method not allowed")}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return result{code: http.StatusRequestEntityTooLarge, mode: mode, err: errors.New("request body too large")}
		}
		return result{code: http.StatusBadRequest, mode: mode, err: errors.New("read body: " + err.Error())}
	}

	events, err := cehttp.Decode(cehttp.NewRequest(r.Header, body))
	if err != nil {
		reason := cehttp.Reason(err)
		if reason == "" {
			return result{code: http.StatusInternalServerError, mode: mode, err: err}
		}
		h.metrics.DecodeError(reason)
		return result{code: http.StatusBadRequest, mode: mode, err: err}
	}
	h.metrics.EventsReceived(mode.String(), len(events))

	ctx := r.Context()
	routes := make([]Route, len(events))
	var journaled []schemas.CloudEvent
	for i, ce := range events {
		route := h.router.Route(ce)
		if route.Err != nil {
			logger.Warn("unroutable event, dead-lettering", zap.String("id", ce.ID()), zap.Error(route.Err))
		}
		routes[i] = route
		if route.Journal {
			journaled = append(journaled, ce)
		}
	}

	if len(journaled) > 0 {
		if h.journal == nil {
			logger.Debug("journal disabled, skipping", zap.Int("events", len(journaled)))
		} else {
			err := h.journal.Append(ctx, requestID, journaled)
			h.metrics.Journaled(len(journaled), err)
			if err != nil {
				logger.Error("journal append", zap.Error(err))
				return result{code: http.StatusBadGateway, mode: mode, events: len(events), err: errors.New("journal unavailable")}
			}
		}
	}

	for i, ce := range events {
		for _, subject := range routes[i].Subjects {
			err := h.publisher.Publish(ctx, subject, ce)
			h.metrics.Published(err)
			if err != nil {
				logger.Error("publish", zap.String("subject", subject), zap.String("id", ce.ID()), zap.Error(err))
				return result{code: http.StatusBadGateway, mode: mode, events: len(events), err: errors.New("publish failed")}
			}
		}
	}

	if h.tail != nil {
		for _, ce := range events {
			h.tail.Broadcast(ce)
		}
	}

	return result{code: http.StatusAccepted, mode: mode, events: len(events)}
}

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"opsdesk/internal/domain"
	"opsdesk/internal/metrics"
)

// AppendAuditor records every persistence attempt for later inspection.
type AppendAuditor interface {
	RecordAppend(ctx context.Context, rec domain.TaskRecord, outcome domain.PersistOutcome)
}

// Processor drives a single message through the full flow: authorize,
// acknowledge, fetch media, classify, persist, reply.
type Processor struct {
	authorizer domain.Authorizer
	fetcher    domain.AudioFetcher
	classifier domain.Classifier
	ledger     domain.TaskLedger
	auditor    AppendAuditor
	logger     *slog.Logger
}

type ProcessorConfig struct {
	Authorizer domain.Authorizer
	Fetcher    domain.AudioFetcher
	Classifier domain.Classifier
	Ledger     domain.TaskLedger
	Auditor    AppendAuditor // optional
	Logger     *slog.Logger
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	return &Processor{
		authorizer: cfg.Authorizer,
		fetcher:    cfg.Fetcher,
		classifier: cfg.Classifier,
		ledger:     cfg.Ledger,
		auditor:    cfg.Auditor,
		logger:     cfg.Logger,
	}
}

// Process handles one message end to end. Replies go through the replier
// of the gateway the message arrived on. A panic anywhere in the flow is
// turned into an error reply so the sender never waits on silence.
func (p *Processor) Process(ctx context.Context, msg domain.CanonicalMessage, replier domain.Replier) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Message processing panicked",
				"gateway", msg.Gateway, "sender", msg.Sender, "panic", r)
			replier.Send(ctx, msg.ReplyTo, fmt.Sprintf("❌ Error processing message: %v", r))
		}
	}()

	if !msg.IsAudio && strings.TrimSpace(msg.Text) == "" {
		p.logger.Info("Empty message content, skipping", "sender", msg.Sender)
		return
	}

	if !p.authorizer.Authorized(msg.Sender, msg.GroupID) {
		metrics.MessagesRejected.Inc()
		p.logger.Info("Sender not on client list, ignoring",
			"gateway", msg.Gateway, "sender", msg.Sender, "group", msg.GroupID)
		return
	}

	metrics.MessagesInFlight.Inc()
	defer metrics.MessagesInFlight.Dec()

	if msg.IsAudio {
		if msg.MediaRef == "" {
			p.logger.Warn("Voice message without media reference", "gateway", msg.Gateway, "sender", msg.Sender)
			replier.Send(ctx, msg.ReplyTo, ReplyNoMediaURL)
			return
		}
		replier.Send(ctx, msg.ReplyTo, AckVoice)
		p.processVoice(ctx, msg, replier)
	} else {
		replier.Send(ctx, msg.ReplyTo, AckText)
		p.processText(ctx, msg, replier)
	}
}

func (p *Processor) processText(ctx context.Context, msg domain.CanonicalMessage, replier domain.Replier) {
	p.logger.Info("Processing text message", "gateway", msg.Gateway, "sender", msg.Sender)

	mctx := domain.MessageContext{IsGroup: msg.IsGroup, GroupName: msg.GroupName}
	result, err := p.classify(ctx, func() (*domain.Classification, error) {
		return p.classifier.ClassifyText(ctx, msg.Text, mctx)
	})
	if err != nil {
		p.logger.Error("Classification failed", "error", err)
		replier.Send(ctx, msg.ReplyTo, ReplyAnalyzeFailed)
		return
	}

	p.finish(ctx, msg, result, replier)
}

func (p *Processor) processVoice(ctx context.Context, msg domain.CanonicalMessage, replier domain.Replier) {
	p.logger.Info("Processing voice message", "gateway", msg.Gateway, "sender", msg.Sender)

	start := time.Now()
	audio, err := p.fetcher.Fetch(ctx, msg.MediaRef, msg.AuthHeaders)
	metrics.MediaLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		p.logger.Error("Audio download failed", "error", err)
		replier.Send(ctx, msg.ReplyTo, ReplyDownloadFailed)
		return
	}
	p.logger.Info("Audio downloaded", "bytes", len(audio))

	mctx := domain.MessageContext{IsGroup: msg.IsGroup, GroupName: msg.GroupName}
	result, err := p.classify(ctx, func() (*domain.Classification, error) {
		return p.classifier.ClassifyAudio(ctx, audio, msg.MimeType, mctx)
	})
	if err != nil {
		p.logger.Error("Classification failed", "error", err)
		replier.Send(ctx, msg.ReplyTo, ReplyAnalyzeVoiceFailed)
		return
	}

	p.finish(ctx, msg, result, replier)
}

func (p *Processor) classify(ctx context.Context, call func() (*domain.Classification, error)) (*domain.Classification, error) {
	start := time.Now()
	result, err := call()
	metrics.ClassifyLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ClassifyFailures.Inc()
		return nil, err
	}
	if result.ParseError {
		metrics.ParseFallbacks.Inc()
	}
	return result, nil
}

// finish persists the classified record and sends the terminal reply.
// Persistence failure degrades the reply but never suppresses it.
func (p *Processor) finish(ctx context.Context, msg domain.CanonicalMessage, result *domain.Classification, replier domain.Replier) {
	p.logger.Info("Message classified",
		"gateway", msg.Gateway, "sender", msg.Sender,
		"intent", result.Intent, "priority", result.Priority)

	rec := domain.TaskRecord{Message: msg, Result: *result}
	outcome := p.ledger.Append(ctx, rec)
	if outcome.OK {
		p.logger.Info("Task persisted", "locator", outcome.Locator)
	} else {
		metrics.AppendFailures.Inc()
		p.logger.Error("Task persistence failed", "error", outcome.Err)
	}
	if p.auditor != nil {
		p.auditor.RecordAppend(ctx, rec, outcome)
	}

	if !replier.Send(ctx, msg.ReplyTo, BuildReply(result, outcome)) {
		p.logger.Error("Reply delivery failed", "gateway", msg.Gateway, "recipient", msg.ReplyTo)
	}
	metrics.MessagesProcessed.Inc()
}

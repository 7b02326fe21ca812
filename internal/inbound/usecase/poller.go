package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	convdomain "outreach-backend/internal/conversation/domain"
	"outreach-backend/internal/inbound/domain"
	mailboxdomain "outreach-backend/internal/mailbox/domain"
	"outreach-backend/pkg/config"
	"outreach-backend/pkg/errtrack"
	"outreach-backend/pkg/logger"
	"outreach-backend/pkg/mailaddr"
	"outreach-backend/pkg/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Accounts interface {
	ConnectedAccounts() ([]mailboxdomain.Account, error)
	AccountForUser(userID string) (*mailboxdomain.Account, error)
	AccountForEmail(email string) (*mailboxdomain.Account, error)
	Provider(ctx context.Context, account *mailboxdomain.Account) (mailboxdomain.Provider, error)
}

type Conversations interface {
	FindThread(userID, recruiterEmail string) (*convdomain.Thread, error)
	AppendMessage(ctx context.Context, threadID string, in *convdomain.NewMessage) (*convdomain.AppendResult, error)
	ThreadHasProviderThread(threadID, providerThreadID string) (bool, error)
}

// Poller reconciles unread mailbox messages with existing conversations.
type Poller struct {
	accounts      Accounts
	conversations Conversations
	mode          domain.ReplyMode
	lookback      time.Duration
	concurrency   int
	timeout       time.Duration
	now           func() time.Time
}

func NewPoller(accounts Accounts, conversations Conversations, cfg *config.Config) (*Poller, error) {
	mode, err := domain.ParseReplyMode(cfg.ReplyDetection)
	if err != nil {
		return nil, err
	}
	concurrency := cfg.PollConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	lookback := cfg.PollLookback
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	return &Poller{
		accounts:      accounts,
		conversations: conversations,
		mode:          mode,
		lookback:      lookback,
		concurrency:   concurrency,
		timeout:       cfg.ProviderTimeout,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run polls every connected account. Account failures are counted and
// contained; only missing provider configuration aborts the run.
func (p *Poller) Run(ctx context.Context) (*domain.Summary, error) {
	accounts, err := p.accounts.ConnectedAccounts()
	if err != nil {
		return nil, fmt.Errorf("list connected accounts: %w", err)
	}

	var (
		mu      sync.Mutex
		summary domain.Summary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i := range accounts {
		account := accounts[i]
		g.Go(func() error {
			result, err := p.PollAccount(gctx, &account)
			if errors.Is(err, mailboxdomain.ErrProviderNotConfigured) {
				return err
			}
			mu.Lock()
			summary.Merge(result)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("poll run aborted", zap.Error(err))
		errtrack.CaptureError(err, map[string]string{"job": "poll"})
		return &summary, err
	}

	logger.Info("poll run finished",
		zap.Int("accounts_checked", summary.AccountsChecked),
		zap.Int("processed", summary.Processed),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors))
	return &summary, nil
}

// PollUser polls the mailbox of one user.
func (p *Poller) PollUser(ctx context.Context, userID string) (domain.Summary, error) {
	account, err := p.accounts.AccountForUser(userID)
	if err != nil {
		return domain.Summary{}, err
	}
	return p.PollAccount(ctx, account)
}

// PollEmail polls the mailbox with the given address, as named by push notifications.
func (p *Poller) PollEmail(ctx context.Context, email string) (domain.Summary, error) {
	account, err := p.accounts.AccountForEmail(mailaddr.Normalize(email))
	if err != nil {
		return domain.Summary{}, err
	}
	return p.PollAccount(ctx, account)
}

// PollAccount processes one account's unread messages serially. A failure to
// reach the mailbox counts as one error in the returned summary; individual
// messages never fail the batch.
func (p *Poller) PollAccount(ctx context.Context, account *mailboxdomain.Account) (domain.Summary, error) {
	summary := domain.Summary{AccountsChecked: 1}
	log := logger.L().With(zap.String("user_id", account.UserID), zap.String("provider", account.Provider))

	messages, provider, err := p.fetch(ctx, account)
	if err != nil {
		summary.Errors++
		metrics.RecordPollAccount(account.Provider, false)
		switch {
		case errors.Is(err, mailboxdomain.ErrProviderNotConfigured):
			return summary, err
		case errors.Is(err, mailboxdomain.ErrTokenRefresh):
			log.Warn("skipping account: mailbox authorization failed", zap.Error(err))
		default:
			log.Error("skipping account: failed to list unread messages", zap.Error(err))
			errtrack.CaptureError(err, map[string]string{"job": "poll", "provider": account.Provider})
		}
		return summary, err
	}

	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		outcome, err := p.processMessage(ctx, account, provider, msg)
		if err != nil {
			log.Warn("failed to process inbound message",
				zap.String("provider_message_id", msg.ProviderMessageID),
				zap.Error(err))
		}
		summary.Add(outcome)
		metrics.RecordPollMessage(string(outcome))
	}
	metrics.RecordPollAccount(account.Provider, true)

	if summary.Processed > 0 {
		log.Info("recorded recruiter replies", zap.Int("count", summary.Processed))
	}
	return summary, nil
}

func (p *Poller) fetch(ctx context.Context, account *mailboxdomain.Account) ([]*mailboxdomain.InboundMessage, mailboxdomain.Provider, error) {
	provider, err := p.accounts.Provider(ctx, account)
	if err != nil {
		return nil, nil, err
	}
	listCtx, cancel := p.withTimeout(ctx)
	defer cancel()
	messages, err := provider.ListUnread(listCtx, p.now().Add(-p.lookback))
	if err != nil {
		return nil, nil, err
	}
	return messages, provider, nil
}

func (p *Poller) processMessage(ctx context.Context, account *mailboxdomain.Account, provider mailboxdomain.Provider, msg *mailboxdomain.InboundMessage) (domain.Outcome, error) {
	if msg.From == "" || msg.ProviderMessageID == "" {
		return domain.OutcomeMalformed, nil
	}
	if mailaddr.Equal(msg.From, account.Email) {
		return domain.OutcomeSelfSent, nil
	}

	thread, err := p.conversations.FindThread(account.UserID, msg.From)
	if err != nil {
		return domain.OutcomeFailed, err
	}
	if thread == nil {
		return domain.OutcomeNoThread, nil
	}

	reply, err := p.isReply(thread, msg)
	if err != nil {
		return domain.OutcomeFailed, err
	}
	if !reply {
		return domain.OutcomeNotReply, nil
	}

	result, err := p.conversations.AppendMessage(ctx, thread.ID, &convdomain.NewMessage{
		SenderType:        convdomain.SenderRecruiter,
		Subject:           msg.Subject,
		Body:              msg.Body(),
		SentAt:            msg.ReceivedAt,
		ProviderMessageID: msg.ProviderMessageID,
		ProviderThreadID:  msg.ProviderThreadID,
		MessageIDHeader:   msg.MessageIDHeader,
		InReplyTo:         msg.InReplyTo,
	})
	if err != nil {
		return domain.OutcomeFailed, err
	}
	if result.Duplicate {
		return domain.OutcomeDuplicate, nil
	}

	markCtx, cancel := p.withTimeout(ctx)
	defer cancel()
	if err := provider.MarkAsRead(markCtx, msg.ProviderMessageID); err != nil {
		// the message is recorded; dedup covers the next poll
		logger.Warn("failed to mark message as read",
			zap.String("user_id", account.UserID),
			zap.String("provider_message_id", msg.ProviderMessageID),
			zap.Error(err))
	}
	return domain.OutcomeRecorded, nil
}

func (p *Poller) isReply(thread *convdomain.Thread, msg *mailboxdomain.InboundMessage) (bool, error) {
	heuristic := domain.LooksLikeReply(msg)
	switch p.mode {
	case domain.ReplyHeuristic:
		return heuristic, nil
	case domain.ReplyEither:
		if heuristic {
			return true, nil
		}
	}
	return p.matchesThread(thread, msg)
}

func (p *Poller) matchesThread(thread *convdomain.Thread, msg *mailboxdomain.InboundMessage) (bool, error) {
	candidates := append([]string{msg.ProviderThreadID, msg.InReplyTo}, msg.References...)
	for _, id := range candidates {
		if id == "" {
			continue
		}
		ok, err := p.conversations.ThreadHasProviderThread(thread.ID, id)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func (p *Poller) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

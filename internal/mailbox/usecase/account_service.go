package usecase

import (
	"context"
	"fmt"

	authdomain "outreach-backend/internal/auth/domain"
	authrepo "outreach-backend/internal/auth/repository"
	mailboxdomain "outreach-backend/internal/mailbox/domain"
	"outreach-backend/pkg/config"
	"outreach-backend/pkg/gmail"
	"outreach-backend/pkg/imap"
	"outreach-backend/pkg/logger"
	"outreach-backend/pkg/utils/crypto"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// AccountService resolves users to connected mailboxes and builds the
// provider client for each one.
type AccountService struct {
	userRepo authrepo.UserRepository
	gmail    *gmail.Service
	cfg      *config.Config
}

func NewAccountService(userRepo authrepo.UserRepository, gmailService *gmail.Service, cfg *config.Config) *AccountService {
	return &AccountService{
		userRepo: userRepo,
		gmail:    gmailService,
		cfg:      cfg,
	}
}

func toAccount(u *authdomain.User) mailboxdomain.Account {
	return mailboxdomain.Account{
		UserID:         u.ID,
		Email:          u.Email,
		Name:           u.Name,
		Provider:       u.Provider,
		DailySendLimit: u.DailySendLimit,
	}
}

// ConnectedAccounts lists every account the poller should inspect.
func (s *AccountService) ConnectedAccounts() ([]mailboxdomain.Account, error) {
	users, err := s.userRepo.ListMailboxUsers()
	if err != nil {
		return nil, err
	}
	accounts := make([]mailboxdomain.Account, 0, len(users))
	for i := range users {
		accounts = append(accounts, toAccount(&users[i]))
	}
	return accounts, nil
}

// AccountForUser returns the user's connected mailbox or ErrNotConnected.
func (s *AccountService) AccountForUser(userID string) (*mailboxdomain.Account, error) {
	user, err := s.userRepo.FindByID(userID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.HasMailbox() {
		return nil, mailboxdomain.ErrNotConnected
	}
	account := toAccount(user)
	return &account, nil
}

// AccountForEmail looks an account up by mailbox address (push notifications
// only carry the address).
func (s *AccountService) AccountForEmail(email string) (*mailboxdomain.Account, error) {
	user, err := s.userRepo.FindByEmail(email)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.HasMailbox() {
		return nil, mailboxdomain.ErrNotConnected
	}
	account := toAccount(user)
	return &account, nil
}

// Provider builds the mailbox client for an account. Refreshed OAuth tokens
// are written back to the user record.
func (s *AccountService) Provider(ctx context.Context, account *mailboxdomain.Account) (mailboxdomain.Provider, error) {
	user, err := s.userRepo.FindByID(account.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.HasMailbox() {
		return nil, mailboxdomain.ErrNotConnected
	}

	switch user.Provider {
	case authdomain.ProviderGoogle:
		return s.gmailMailbox(user)
	case authdomain.ProviderIMAP:
		return s.imapMailbox(user)
	default:
		return nil, fmt.Errorf("%w: %q", mailboxdomain.ErrUnsupportedProvider, user.Provider)
	}
}

func (s *AccountService) gmailMailbox(user *authdomain.User) (mailboxdomain.Provider, error) {
	if s.gmail == nil || !s.gmail.Configured() {
		return nil, fmt.Errorf("%w: GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET not set", mailboxdomain.ErrProviderNotConfigured)
	}
	token := &oauth2.Token{
		AccessToken:  user.AccessToken,
		RefreshToken: user.RefreshToken,
		TokenType:    "Bearer",
	}
	if user.TokenExpiry != nil {
		token.Expiry = *user.TokenExpiry
	}
	return s.gmail.ForAccount(token, user.Name, user.Email, s.makeTokenUpdateCallback(user.ID)), nil
}

func (s *AccountService) imapMailbox(user *authdomain.User) (mailboxdomain.Provider, error) {
	if s.cfg.EncryptionKey == "" {
		return nil, fmt.Errorf("%w: ENCRYPTION_KEY not set", mailboxdomain.ErrProviderNotConfigured)
	}
	password, err := crypto.Decrypt(user.ImapPassword, s.cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt imap password: %v", mailboxdomain.ErrTokenRefresh, err)
	}
	return imap.NewMailbox(imap.Config{
		ImapServer: user.ImapServer,
		ImapPort:   user.ImapPort,
		SmtpServer: user.SmtpServer,
		SmtpPort:   user.SmtpPort,
		Username:   user.Email,
		Password:   password,
		FromName:   user.Name,
		UseTLS:     user.ImapPort != 143,
		Timeout:    s.cfg.ProviderTimeout,
	}), nil
}

func (s *AccountService) makeTokenUpdateCallback(userID string) mailboxdomain.TokenUpdateFunc {
	return func(token *oauth2.Token) error {
		logger.Debug("persisting refreshed oauth token", zap.String("user_id", userID))
		return s.userRepo.UpdateTokens(userID, token.AccessToken, token.RefreshToken, token.Expiry)
	}
}

// Watch (re)starts Gmail push notifications for the user's inbox.
func (s *AccountService) Watch(ctx context.Context, userID string) (uint64, error) {
	account, err := s.AccountForUser(userID)
	if err != nil {
		return 0, err
	}
	if account.Provider != authdomain.ProviderGoogle {
		return 0, fmt.Errorf("%w: push notifications require a Gmail account", mailboxdomain.ErrUnsupportedProvider)
	}
	provider, err := s.Provider(ctx, account)
	if err != nil {
		return 0, err
	}
	mb, ok := provider.(*gmail.Mailbox)
	if !ok {
		return 0, mailboxdomain.ErrUnsupportedProvider
	}
	return mb.Watch(ctx, s.cfg.GooglePubSubTopic)
}

// Package tokenization выдаёт токены вместо номеров карт и чистит истёкшие.
package tokenization

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
)

const defaultTokenTTL = 24 * time.Hour

// CardInput — данные карты от клиента. Номер после токенизации не сохраняется.
type CardInput struct {
	Number      string `validate:"required,numeric,min=13,max=19,luhn"`
	HolderName  string `validate:"required,max=100"`
	ExpiryMonth int    `validate:"required,min=1,max=12"`
	ExpiryYear  int    `validate:"required,min=2000,max=2100"`
	CVV         string `validate:"omitempty,numeric,min=3,max=4"`
}

// Service токенизирует карты поверх domain.TokenVault.
type Service struct {
	vault    domain.TokenVault
	ttl      time.Duration
	validate *validator.Validate
	logger   *log.Entry
	now      func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithServiceLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService создаёт сервис токенизации.
func NewService(vault domain.TokenVault, opts ...Option) *Service {
	validate := validator.New(validator.WithRequiredStructEnabled())
	_ = validate.RegisterValidation("luhn", func(fl validator.FieldLevel) bool {
		return luhnValid(fl.Field().String())
	})

	s := &Service{
		vault:    vault,
		ttl:      defaultTokenTTL,
		validate: validate,
		logger:   log.WithField("component", "tokenization"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tokenize проверяет карту и сохраняет её маскированное представление под новым токеном.
func (s *Service) Tokenize(ctx context.Context, in CardInput) (domain.CardToken, error) {
	in.Number = normalizeNumber(in.Number)
	in.HolderName = strings.TrimSpace(in.HolderName)
	if err := s.validate.StructCtx(ctx, in); err != nil {
		return domain.CardToken{}, domain.InvalidRequest(err)
	}

	now := s.now()
	if !expiryInFuture(in.ExpiryMonth, in.ExpiryYear, now) {
		return domain.CardToken{}, domain.ErrCardInvalid
	}

	last4 := in.Number[len(in.Number)-4:]
	card := domain.CardToken{
		Token:       "tok_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Last4:       last4,
		Masked:      "****" + last4,
		Brand:       detectBrand(in.Number),
		HolderName:  in.HolderName,
		ExpiryMonth: in.ExpiryMonth,
		ExpiryYear:  in.ExpiryYear,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}
	if err := s.vault.Put(ctx, card); err != nil {
		return domain.CardToken{}, err
	}

	s.logger.WithFields(log.Fields{
		"brand":  card.Brand,
		"masked": card.Masked,
	}).Debug("card tokenized")
	return card, nil
}

// Resolve возвращает данные по токену. Истёкший токен удаляется сразу.
func (s *Service) Resolve(ctx context.Context, token string) (domain.CardToken, error) {
	card, err := s.vault.Get(ctx, token)
	if err != nil {
		return domain.CardToken{}, err
	}
	if card.Expired(s.now()) {
		if err := s.vault.Delete(ctx, token); err != nil {
			s.logger.WithError(err).Warn("failed to delete expired card token")
		}
		return domain.CardToken{}, domain.ErrTokenExpired
	}
	return card, nil
}

// Invalidate удаляет токен.
func (s *Service) Invalidate(ctx context.Context, token string) error {
	return s.vault.Delete(ctx, token)
}

// ActiveCount — число токенов в vault.
func (s *Service) ActiveCount(ctx context.Context) (int, error) {
	return s.vault.Count(ctx)
}

func normalizeNumber(number string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(number)
}

func luhnValid(number string) bool {
	if number == "" {
		return false
	}
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// expiryInFuture — карта действует до конца месяца истечения.
func expiryInFuture(month, year int, now time.Time) bool {
	firstOfNext := time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
	return now.Before(firstOfNext)
}

func detectBrand(number string) string {
	switch {
	case strings.HasPrefix(number, "4"):
		return "visa"
	case strings.HasPrefix(number, "34"), strings.HasPrefix(number, "37"):
		return "amex"
	case strings.HasPrefix(number, "9792"):
		return "troy"
	case len(number) >= 2 && number[0] == '5' && number[1] >= '1' && number[1] <= '5':
		return "mastercard"
	case len(number) >= 2 && number[0] == '2' && number[1] >= '2' && number[1] <= '7':
		return "mastercard"
	default:
		return "unknown"
	}
}

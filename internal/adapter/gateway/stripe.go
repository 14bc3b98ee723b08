package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"social-wallet/config"
	"social-wallet/internal/core/domain"
	"social-wallet/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// Stripe implements ports.PaymentGateway against the Stripe API.
type Stripe struct {
	api      *client.API
	currency string
	log      zerolog.Logger
}

// NewStripe creates a Stripe gateway. cfg.APIURL, when set, replaces the public API endpoint.
func NewStripe(cfg config.PaymentConfig, httpClient *http.Client, log zerolog.Logger) *Stripe {
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		LeveledLogger:     leveledLogger{log: log.With().Str("component", "stripe").Logger()},
		MaxNetworkRetries: stripe.Int64(2),
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)
	api := client.New(cfg.SecretKey, &stripe.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})

	return &Stripe{
		api:      api,
		currency: strings.ToLower(cfg.Currency),
		log:      log,
	}
}

// CreateCustomer registers the wallet identity as a Stripe customer.
func (s *Stripe) CreateCustomer(ctx context.Context, identityRef string) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	params.AddMetadata(domain.MetaAccountID, identityRef)
	params.SetIdempotencyKey("customer-" + identityRef)

	c, err := s.api.Customers.New(params)
	if err != nil {
		return "", translateError("create customer", err)
	}

	s.log.Info().Str("account_id", identityRef).Str("customer_ref", c.ID).Msg("stripe customer created")
	return c.ID, nil
}

// CreatePaymentIntent opens a charge for amount minor units in the configured currency.
func (s *Stripe) CreatePaymentIntent(ctx context.Context, amount int64, customerRef string, metadata map[string]string) (*domain.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(s.currency),
		Customer: stripe.String(customerRef),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	if txID := metadata[domain.MetaTransactionID]; txID != "" {
		params.SetIdempotencyKey("deposit-" + txID)
	}

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, translateError("create payment intent", err)
	}
	return toIntent(pi), nil
}

// GetPaymentIntent fetches the processor's current view of an intent.
func (s *Stripe) GetPaymentIntent(ctx context.Context, intentRef string) (*domain.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := s.api.PaymentIntents.Get(intentRef, params)
	if err != nil {
		return nil, translateError("get payment intent", err)
	}
	return toIntent(pi), nil
}

// toIntent maps a Stripe intent. Succeeded intents report the received amount.
func toIntent(pi *stripe.PaymentIntent) *domain.PaymentIntent {
	amount := pi.Amount
	if pi.Status == stripe.PaymentIntentStatusSucceeded && pi.AmountReceived > 0 {
		amount = pi.AmountReceived
	}
	return &domain.PaymentIntent{
		Ref:          pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       domain.IntentStatus(pi.Status),
		Amount:       amount,
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}
}

// translateError surfaces unknown resources as not found. Everything else stays a
// plain error and is reported as a gateway failure upstream.
func translateError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound {
			return apperror.ErrNotFound("payment intent")
		}
		return fmt.Errorf("stripe %s: %s (%s): %w", op, stripeErr.Msg, stripeErr.Type, err)
	}
	return fmt.Errorf("stripe %s: %w", op, err)
}

// leveledLogger routes stripe-go client logs through zerolog.
type leveledLogger struct {
	log zerolog.Logger
}

func (l leveledLogger) Debugf(format string, v ...interface{}) { l.log.Debug().Msgf(format, v...) }
func (l leveledLogger) Infof(format string, v ...interface{})  { l.log.Debug().Msgf(format, v...) }
func (l leveledLogger) Warnf(format string, v ...interface{})  { l.log.Warn().Msgf(format, v...) }
func (l leveledLogger) Errorf(format string, v ...interface{}) { l.log.Error().Msgf(format, v...) }

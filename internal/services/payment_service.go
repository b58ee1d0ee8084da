// internal/services/payment_service.go
package services

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// PaymentVerifier confirms that an external reference names a settled payment.
// It is always consulted before the issuance transaction opens.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, externalRef string, expected decimal.Decimal) error
}

// StripePaymentVerifier treats external references as Stripe PaymentIntent ids.
type StripePaymentVerifier struct {
	getIntent func(id string) (*stripe.PaymentIntent, error)
}

func NewStripePaymentVerifier(secretKey string) *StripePaymentVerifier {
	// Initialize Stripe
	stripe.Key = secretKey

	return &StripePaymentVerifier{
		getIntent: func(id string) (*stripe.PaymentIntent, error) {
			return paymentintent.Get(id, nil)
		},
	}
}

func (v *StripePaymentVerifier) VerifyPayment(ctx context.Context, externalRef string, expected decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return ErrInternal.Wrap(err)
	}

	pi, err := v.getIntent(externalRef)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return ErrPaymentNotVerified.WithMessage("payment intent not found")
		}
		logrus.WithError(err).WithField("external_ref", externalRef).Error("Failed to fetch payment intent")
		return ErrInternal.Wrap(err)
	}

	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return ErrPaymentNotVerified.WithMessage("payment intent status is %s", pi.Status)
	}

	// Convert deal price to cents for Stripe
	expectedCents := expected.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	if pi.AmountReceived < expectedCents {
		return ErrPaymentNotVerified.WithMessage("payment amount %d is below deal price %d", pi.AmountReceived, expectedCents)
	}

	return nil
}

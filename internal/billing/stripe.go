package billing

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// API is the part of the Stripe API that billing calls.
type API interface {
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	// GetCheckoutSession fetches a session with its line items expanded.
	GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error)
	GetCustomer(ctx context.Context, id string) (*stripe.Customer, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error)
}

type stripeAPI struct {
	sc *client.API
}

// NewStripeAPI creates an API backed by the Stripe client.
func NewStripeAPI(secretKey string) API {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &stripeAPI{sc: sc}
}

func (a *stripeAPI) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	params.Context = ctx
	sess, err := a.sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return sess, nil
}

func (a *stripeAPI) GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("line_items")
	sess, err := a.sc.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("get checkout session %s: %w", id, err)
	}
	return sess, nil
}

func (a *stripeAPI) GetCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	cus, err := a.sc.Customers.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("get customer %s: %w", id, err)
	}
	return cus, nil
}

func (a *stripeAPI) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	sess, err := a.sc.BillingPortalSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create portal session: %w", err)
	}
	return sess, nil
}

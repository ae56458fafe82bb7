package cli

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"payment-settlement/internal/config"
	"payment-settlement/internal/domain"
	"payment-settlement/internal/infrastructure/payment"
	"payment-settlement/internal/service"
	"payment-settlement/internal/webhook"
)

const simSecret = "sk_test_simulation"

type simOptions struct {
	Orders      int
	WebhookLoss float64
	ReturnRate  float64
	LogLevel    string
}

type simReport struct {
	Orders         int
	Charged        int
	Declined       int
	PaidAtCheckout int
	PhantomBefore  int
	PaidAfterSweep int
	PhantomAfter   int
}

var simOpts = simOptions{Orders: 20, WebhookLoss: 0.3, ReturnRate: 0.5, LogLevel: "error"}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay a day of checkouts against an in-process gateway",
	Long: `Run checkouts against a fake gateway through the real HTTP API.

Some webhooks are lost and some customers never return to the verify page,
which leaves charged but unpaid orders. A reconciliation sweep runs at the
end and should leave none behind.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		report, err := runSimulation(cmd.Context(), cmd.OutOrStdout(), simOpts)
		if err != nil {
			return err
		}
		if report.PhantomAfter > 0 {
			return fmt.Errorf("%d charged orders still unpaid after sweep", report.PhantomAfter)
		}
		return nil
	},
}

func init() {
	simulateCmd.Flags().IntVar(&simOpts.Orders, "orders", simOpts.Orders, "number of checkouts")
	simulateCmd.Flags().Float64Var(&simOpts.WebhookLoss, "webhook-loss", simOpts.WebhookLoss, "fraction of webhooks never delivered")
	simulateCmd.Flags().Float64Var(&simOpts.ReturnRate, "return-rate", simOpts.ReturnRate, "fraction of customers who return to verify")
	simulateCmd.Flags().StringVar(&simOpts.LogLevel, "log-level", simOpts.LogLevel, "service log level")
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func runSimulation(ctx context.Context, out io.Writer, opts simOptions) (simReport, error) {
	report := simReport{Orders: opts.Orders}

	provider := payment.NewFakeProvider(simSecret)
	gatewaySrv := httptest.NewServer(provider)
	defer gatewaySrv.Close()

	cfg := &config.Config{
		LogLevel:        opts.LogLevel,
		CallbackBaseURL: "http://localhost",
		Gateway: config.GatewayConfig{
			BaseURL:        gatewaySrv.URL,
			SecretKey:      simSecret,
			MerchantPrefix: "SIM",
			Timeout:        2 * time.Second,
			MaxAttempts:    3,
			MaxBackoff:     50 * time.Millisecond,
		},
		Reconcile: config.ReconcileConfig{
			Interval:  time.Second,
			BatchSize: max(opts.Orders, 1),
		},
	}
	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return report, err
	}
	defer a.Close()

	apiSrv := httptest.NewServer(a.server().Handler())
	defer apiSrv.Close()

	client := resty.New().SetBaseURL(apiSrv.URL).SetHeader("Content-Type", "application/json")

	fmt.Fprintf(out, "--- simulating %d checkouts (webhook loss %.0f%%, return rate %.0f%%) ---\n",
		opts.Orders, opts.WebhookLoss*100, opts.ReturnRate*100)

	charged := make(map[uuid.UUID]bool, opts.Orders)
	for i := range opts.Orders {
		order, ref, err := checkout(ctx, client)
		if err != nil {
			fmt.Fprintf(out, "[%d] checkout failed: %v\n", i+1, err)
			continue
		}

		paid, err := provider.Simulate(ref, time.Now().UTC())
		if err != nil {
			return report, fmt.Errorf("provider.Simulate: %w", err)
		}
		charged[order.ID] = paid
		if paid {
			report.Charged++
		} else {
			report.Declined++
		}

		delivered := gofakeit.Float64Range(0, 1) >= opts.WebhookLoss
		returned := paid && gofakeit.Float64Range(0, 1) < opts.ReturnRate
		if err := settle(ctx, client, provider, ref, delivered, returned); err != nil {
			fmt.Fprintf(out, "[%d] %s: %v\n", i+1, ref, err)
		}

		current, err := a.orders.FindById(ctx, order.ID)
		if err != nil {
			return report, err
		}
		if current.IsPaid {
			report.PaidAtCheckout++
		} else if paid {
			report.PhantomBefore++
		}
		fmt.Fprintf(out, "[%d] %s charged=%-5v webhook=%-5v returned=%-5v -> status=%s paid=%v\n",
			i+1, ref, paid, delivered, returned, current.Status, current.IsPaid)
	}

	res, err := a.worker().RunOnce(ctx)
	if err != nil {
		return report, fmt.Errorf("sweep: %w", err)
	}
	fmt.Fprintf(out, "--- sweep: checked=%d applied=%d not_verified=%d failed=%d ---\n",
		res.Checked, res.Applied, res.NotVerified, res.Failed)

	for id, paid := range charged {
		current, err := a.orders.FindById(ctx, id)
		if err != nil {
			return report, err
		}
		switch {
		case current.IsPaid:
			report.PaidAfterSweep++
		case paid:
			report.PhantomAfter++
		}
	}

	fmt.Fprintf(out, "orders=%d charged=%d declined=%d paid_at_checkout=%d unpaid_charges_before_sweep=%d paid_after_sweep=%d unpaid_charges_after_sweep=%d\n",
		report.Orders, report.Charged, report.Declined, report.PaidAtCheckout, report.PhantomBefore, report.PaidAfterSweep, report.PhantomAfter)
	return report, nil
}

func checkout(ctx context.Context, client *resty.Client) (domain.Order, string, error) {
	var created envelope[domain.Order]
	resp, err := client.R().SetContext(ctx).
		SetBody(service.CreateOrderInput{
			CustomerEmail: gofakeit.Email(),
			Currency:      "NGN",
			Items: []domain.OrderItem{{
				ProductID: gofakeit.UUID(),
				Name:      gofakeit.ProductName(),
				Quantity:  gofakeit.Number(1, 3),
				UnitPrice: decimal.NewFromFloat(gofakeit.Price(1000, 50000)).Round(2),
			}},
		}).
		SetResult(&created).
		Post("/orders")
	if err != nil {
		return domain.Order{}, "", err
	}
	if resp.IsError() {
		return domain.Order{}, "", fmt.Errorf("create order: %s", resp.Status())
	}

	var auth envelope[payment.Authorization]
	resp, err = client.R().SetContext(ctx).
		SetBody(map[string]string{"order_id": created.Data.ID.String()}).
		SetResult(&auth).
		Post("/payment/initialize")
	if err != nil {
		return domain.Order{}, "", err
	}
	if resp.IsError() {
		return domain.Order{}, "", fmt.Errorf("initialize payment: %s", resp.Status())
	}
	return created.Data, auth.Data.Reference, nil
}

// settle delivers the webhook and the customer's verify call at the same time,
// the way they race in production.
func settle(ctx context.Context, client *resty.Client, provider *payment.FakeProvider, ref string, delivered, returned bool) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, err)
	}

	if delivered {
		body, sig, err := provider.Webhook(ref)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.R().SetContext(ctx).
				SetHeader(webhook.SignatureHeader, sig).
				SetBody(body).
				Post("/payment/webhook")
			if err != nil {
				fail(err)
			} else if resp.IsError() {
				fail(fmt.Errorf("webhook: %s", resp.Status()))
			}
		}()
	}
	if returned {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.R().SetContext(ctx).
				SetBody(map[string]string{"reference": ref}).
				Post("/payment/verify")
			if err != nil {
				fail(err)
			} else if resp.IsError() {
				fail(fmt.Errorf("verify: %s", resp.Status()))
			}
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

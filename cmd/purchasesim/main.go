// purchasesim drives one in-app purchase through the full engine against an
// in-memory platform queue, either with an in-memory backend or a real one.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/corvomail/payments/backend"
	backendmemory "github.com/corvomail/payments/backend/memory"
	"github.com/corvomail/payments/backend/rest"
	"github.com/corvomail/payments/plan"
	plancache "github.com/corvomail/payments/plan/cache"
	"github.com/corvomail/payments/plan/gormstore"
	planmemory "github.com/corvomail/payments/plan/memory"
	"github.com/corvomail/payments/platform"
	platformmemory "github.com/corvomail/payments/platform/memory"
	"github.com/corvomail/payments/purchase"
	"github.com/corvomail/payments/receipt"
)

const (
	flagProduct    = "product"
	flagUserID     = "user-id"
	flagBackendURL = "backend-url"
	flagStorePath  = "store-path"
	flagAddCredits = "add-credits"
	flagResolution = "resolution"
	flagVerbose    = "verbose"

	configKeyProduct    = "product"
	configKeyUserID     = "user_id"
	configKeyBackendURL = "backend_url"
	configKeyStorePath  = "store_path"
	configKeyAddCredits = "add_credits"
	configKeyResolution = "resolution"
	configKeyVerbose    = "verbose"

	defaultProduct    = "plus_12"
	defaultResolution = "purchased"
)

type runtimeConfig struct {
	Product    string
	UserID     string
	BackendURL string
	StorePath  string
	AddCredits bool
	Resolution string
	Verbose    bool
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "purchasesim: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "purchasesim",
		Short:         "Simulate an in-app purchase end to end",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd.Context(), cfg)
		},
	}

	cmd.Flags().String(flagProduct, defaultProduct, "store product identifier to purchase")
	cmd.Flags().String(flagUserID, "simuser", "account identifier; empty simulates a pre-signup purchase")
	cmd.Flags().String(flagBackendURL, "", "payments API base URL; empty uses the in-memory backend")
	cmd.Flags().String(flagStorePath, "", "sqlite path for the plan store; empty keeps plans in memory")
	cmd.Flags().Bool(flagAddCredits, false, "top up credits instead of buying a subscription")
	cmd.Flags().String(flagResolution, defaultResolution, "platform resolution: purchased, cancelled, not-allowed or failed")
	cmd.Flags().BoolP(flagVerbose, "v", false, "enable debug logging")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvPrefix("PURCHASESIM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyProduct:    flagProduct,
		configKeyUserID:     flagUserID,
		configKeyBackendURL: flagBackendURL,
		configKeyStorePath:  flagStorePath,
		configKeyAddCredits: flagAddCredits,
		configKeyResolution: flagResolution,
		configKeyVerbose:    flagVerbose,
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	cfg.Product = viper.GetString(configKeyProduct)
	cfg.UserID = viper.GetString(configKeyUserID)
	cfg.BackendURL = viper.GetString(configKeyBackendURL)
	cfg.StorePath = viper.GetString(configKeyStorePath)
	cfg.AddCredits = viper.GetBool(configKeyAddCredits)
	cfg.Resolution = viper.GetString(configKeyResolution)
	cfg.Verbose = viper.GetBool(configKeyVerbose)

	if cfg.Product == "" {
		return fmt.Errorf("product is required")
	}
	if _, ok := plan.FromProductID(cfg.Product); !ok {
		return fmt.Errorf("product %q does not follow the <plan>_<cycle> naming scheme", cfg.Product)
	}
	switch cfg.Resolution {
	case "purchased", "cancelled", "not-allowed", "failed":
	default:
		return fmt.Errorf("unknown resolution %q", cfg.Resolution)
	}
	return nil
}

// simSession is a fixed authentication state for the run.
type simSession struct {
	userID string
}

func (s simSession) UserID() string { return s.userID }

// A session exists even before the account does.
func (s simSession) IsSignedIn() bool       { return true }
func (s simSession) IsUnlocked() bool       { return true }
func (s simSession) ActiveUsername() string { return s.userID }

// simAlerter prints what the app would show and always confirms bypasses.
type simAlerter struct {
	log *zap.Logger
}

func (a simAlerter) ShowError(err error) {
	a.log.Warn("Alert shown", zap.Error(err))
}

func (a simAlerter) ConfirmBypass(username string, err error, confirm func(), decline func()) {
	a.log.Info("Bypass confirmed automatically", zap.String("username", username), zap.Error(err))
	confirm()
}

func runSimulation(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := newLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	client, err := newBackendClient(logger, cfg)
	if err != nil {
		return err
	}

	store, err := newPlanStore(cfg)
	if err != nil {
		return fmt.Errorf("plan store init: %w", err)
	}
	provider := plancache.NewInCache(plan.NewCatalogProvider(logger, client, store))

	queue := platformmemory.NewQueue()
	switch cfg.Resolution {
	case "cancelled":
		queue.SetPaymentResolution(platform.StateFailed, platform.ErrorCodePaymentCancelled)
	case "not-allowed":
		queue.SetPaymentResolution(platform.StateFailed, platform.ErrorCodePaymentNotAllowed)
	case "failed":
		queue.SetPaymentResolution(platform.StateFailed, platform.ErrorCodeUnknown)
	}

	session := simSession{userID: cfg.UserID}
	manager := purchase.NewManager(
		logger,
		queue,
		client,
		provider,
		&receipt.StaticProvider{Receipt: "c2ltdWxhdGVkLXJlY2VpcHQ="},
		receipt.NoopValidator{},
		session,
		simAlerter{log: logger},
		func() { logger.Debug("Subscription refresh requested") },
	)
	manager.SubscribeToPaymentQueue()
	defer manager.Close()

	if err := manager.UpdateAvailableProducts(ctx); err != nil {
		return fmt.Errorf("catalog update: %w", err)
	}

	purchasePlan, _ := plan.FromProductID(cfg.Product)
	if label, err := manager.PriceLabelForProduct(ctx, cfg.Product); err == nil {
		logger.Info("Purchasing", zap.String("product", cfg.Product), zap.String("price", label))
	}

	purchaser := purchase.NewPurchaser(logger, manager)
	results := make(chan purchase.Result, 1)
	purchaser.BuyPlan(ctx, purchasePlan, cfg.AddCredits, purchase.DirectExecutor{}, func(r purchase.Result) {
		results <- r
	})

	select {
	case r := <-results:
		return report(logger, r)
	case <-time.After(30 * time.Second):
		return fmt.Errorf("no purchase result within 30s")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func report(logger *zap.Logger, r purchase.Result) error {
	switch r.Kind {
	case purchase.ResultPurchasedPlan:
		logger.Info("Plan purchased", zap.String("plan", r.Plan.Name), zap.Int("cycle", r.Plan.Cycle))
		return nil
	case purchase.ResultToppedUpCredits:
		logger.Info("Credits topped up", zap.Int64("credits", r.Credits))
		return nil
	case purchase.ResultPurchaseCancelled:
		logger.Info("Purchase cancelled by user")
		return nil
	case purchase.ResultPlanPurchaseProcessingInProgress:
		logger.Info("A purchase is already being processed")
		return nil
	case purchase.ResultAPIMightBeBlocked:
		return fmt.Errorf("backend unreachable, possibly blocked: %w", r.Err)
	default:
		return fmt.Errorf("purchase failed: %w", r.Err)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	return cfg.Build()
}

func newBackendClient(logger *zap.Logger, cfg *runtimeConfig) (backend.Client, error) {
	if cfg.BackendURL != "" {
		return rest.NewClient(logger, cfg.BackendURL, "purchasesim/1.0"), nil
	}

	client := backendmemory.NewClient()
	client.SetPlan(&backend.PlanDetails{
		ID:          "plan-plus",
		Name:        "plus",
		Pricing:     map[int]int64{1: 499, 12: 4799},
		Currency:    "USD",
		Purchasable: true,
	})
	client.SetPlan(&backend.PlanDetails{
		ID:          "plan-unlimited",
		Name:        "unlimited",
		Pricing:     map[int]int64{1: 999, 12: 9999},
		Currency:    "USD",
		Purchasable: true,
	})
	return client, nil
}

func newPlanStore(cfg *runtimeConfig) (plan.Store, error) {
	if cfg.StorePath == "" {
		return planmemory.NewInMemory(), nil
	}
	return gormstore.Open(cfg.StorePath)
}

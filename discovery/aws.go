package discovery

import (
	"log/slog"
	"math"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"golang.org/x/time/rate"

	"github.com/GoCodeAlone/stack-discovery/assume"
	"github.com/GoCodeAlone/stack-discovery/stack"
)

// AWSScannerFactory builds CloudFormation scanners from scoped credentials.
// All regions of an account share one rate limiter.
type AWSScannerFactory struct {
	cfg       aws.Config
	rateLimit float64
	logger    *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewAWSScannerFactory creates a factory. rateLimit is in requests per
// second per account; zero or less disables throttling.
func NewAWSScannerFactory(cfg aws.Config, rateLimit float64, logger *slog.Logger) *AWSScannerFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &AWSScannerFactory{
		cfg:       cfg,
		rateLimit: rateLimit,
		logger:    logger,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// NewScanner implements ScannerFactory.
func (f *AWSScannerFactory) NewScanner(creds *assume.ScopedCredentials, region string) StackScanner {
	client := stack.NewClient(f.cfg, region, creds.Provider())
	return stack.NewScanner(client, creds.AccountID, region,
		stack.WithLogger(f.logger),
		stack.WithRateLimiter(f.limiter(creds.AccountID)),
	)
}

func (f *AWSScannerFactory) limiter(accountID string) *rate.Limiter {
	if f.rateLimit <= 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[accountID]
	if !ok {
		burst := int(math.Max(1, math.Ceil(f.rateLimit)))
		l = rate.NewLimiter(rate.Limit(f.rateLimit), burst)
		f.limiters[accountID] = l
	}
	return l
}

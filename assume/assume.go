// Package assume resolves short-lived, role-scoped credentials for member
// accounts through a two-hop STS AssumeRole chain: a configured source role
// is assumed once with the process credentials, and that session is then used
// to assume a per-account destination role.
package assume

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/GoCodeAlone/stack-discovery/cache"
)

// STSClient defines the STS operations used by the resolver.
type STSClient interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// DefaultExpirySkew is how long before the real expiry a cached credential
// stops being handed out.
const DefaultExpirySkew = 5 * time.Minute

// Config configures a Resolver.
type Config struct {
	// SourceRoleARN is assumed once with the process credentials. When empty
	// the process credentials are used directly for the per-account hop.
	SourceRoleARN string

	// RoleName is the destination role name present in every member account.
	RoleName string

	// Partition is the ARN partition, "aws" by default.
	Partition string

	// SessionName prefixes the STS role session names.
	SessionName string

	// Duration requests a specific session duration. Zero leaves it to STS.
	Duration time.Duration

	// ExpirySkew overrides DefaultExpirySkew.
	ExpirySkew time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// ScopedCredentials are temporary credentials for one member account.
type ScopedCredentials struct {
	AccountID   string
	RoleARN     string
	Credentials aws.Credentials
	Expires     time.Time
}

// Provider returns a credentials provider that always hands out these
// credentials, suitable for building per-account SDK clients.
func (c *ScopedCredentials) Provider() aws.CredentialsProvider {
	return credentials.StaticCredentialsProvider{Value: c.Credentials}
}

// CredentialError is returned when the per-account role cannot be assumed.
// It is scoped to a single account.
type CredentialError struct {
	// AccountID is the account whose role could not be assumed.
	AccountID string

	// RoleARN is the role that was requested.
	RoleARN string

	// Err is the underlying STS error.
	Err error
}

// Error implements the error interface.
func (e *CredentialError) Error() string {
	return fmt.Sprintf("assume role %q for account %s: %v", e.RoleARN, e.AccountID, e.Err)
}

// Unwrap returns the underlying STS error.
func (e *CredentialError) Unwrap() error { return e.Err }

// Denied reports whether STS refused the request outright.
func (e *CredentialError) Denied() bool {
	var apiErr smithy.APIError
	if errors.As(e.Err, &apiErr) {
		return apiErr.ErrorCode() == "AccessDenied"
	}
	return false
}

// RoleARN builds the destination role ARN for an account.
func RoleARN(partition, accountID, roleName string) string {
	if partition == "" {
		partition = "aws"
	}
	return fmt.Sprintf("arn:%s:iam::%s:role/%s", partition, accountID, roleName)
}

// SourceProvider returns the first hop of the chain: a caching provider that
// assumes sourceRoleARN through base. The SDK cache only calls STS again once
// the source session has expired.
func SourceProvider(base stscreds.AssumeRoleAPIClient, sourceRoleARN, sessionPrefix string) aws.CredentialsProvider {
	return aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(base, sourceRoleARN, func(o *stscreds.AssumeRoleOptions) {
		o.RoleSessionName = sessionName(sessionPrefix)
	}))
}

// Resolver issues and caches per-account credentials.
type Resolver struct {
	client   STSClient
	cfg      Config
	cache    *cache.ExpiringCache[string, *ScopedCredentials]
	inflight singleflight.Group
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a Resolver from the process AWS config. The returned resolver
// assumes cfg.SourceRoleARN lazily on first use.
func New(awsCfg aws.Config, cfg Config) *Resolver {
	var client *sts.Client
	if cfg.SourceRoleARN == "" {
		client = sts.NewFromConfig(awsCfg)
	} else {
		source := SourceProvider(sts.NewFromConfig(awsCfg), cfg.SourceRoleARN, cfg.SessionName)
		client = sts.NewFromConfig(awsCfg, func(o *sts.Options) {
			o.Credentials = source
		})
	}
	return NewWithClient(client, cfg)
}

// NewWithClient creates a Resolver whose per-account hop uses client. The
// client is expected to already carry the source-role session.
func NewWithClient(client STSClient, cfg Config) *Resolver {
	if cfg.Partition == "" {
		cfg.Partition = "aws"
	}
	if cfg.ExpirySkew <= 0 {
		cfg.ExpirySkew = DefaultExpirySkew
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		client: client,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
	r.cache = cache.New[string, *ScopedCredentials](cache.Config{Clock: r.clock})
	return r
}

func (r *Resolver) clock() time.Time { return r.now() }

// RoleARN returns the destination role ARN for accountID.
func (r *Resolver) RoleARN(accountID string) string {
	return RoleARN(r.cfg.Partition, accountID, r.cfg.RoleName)
}

// Resolve returns credentials for accountID, reusing cached credentials
// until shortly before they expire. Concurrent calls for the same account
// share one STS request; calls for different accounts never wait on each other.
func (r *Resolver) Resolve(ctx context.Context, accountID string) (*ScopedCredentials, error) {
	if creds, ok := r.cache.Get(accountID); ok {
		return creds, nil
	}

	v, err, _ := r.inflight.Do(accountID, func() (any, error) {
		if creds, ok := r.cache.Get(accountID); ok {
			return creds, nil
		}
		creds, err := r.assume(ctx, accountID)
		if err != nil {
			return nil, err
		}
		r.cache.Set(accountID, creds, creds.Expires.Add(-r.cfg.ExpirySkew))
		return creds, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ScopedCredentials), nil
}

// Forget drops any cached credentials for accountID.
func (r *Resolver) Forget(accountID string) {
	r.cache.Delete(accountID)
}

// CacheStats exposes the credential cache counters.
func (r *Resolver) CacheStats() cache.Stats {
	return r.cache.Stats()
}

func (r *Resolver) assume(ctx context.Context, accountID string) (*ScopedCredentials, error) {
	roleARN := r.RoleARN(accountID)
	input := &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleARN),
		RoleSessionName: aws.String(sessionName(r.cfg.SessionName)),
	}
	if r.cfg.Duration > 0 {
		input.DurationSeconds = aws.Int32(int32(r.cfg.Duration.Seconds()))
	}

	out, err := r.client.AssumeRole(ctx, input)
	if err != nil {
		return nil, &CredentialError{AccountID: accountID, RoleARN: roleARN, Err: err}
	}
	if out.Credentials == nil {
		return nil, &CredentialError{AccountID: accountID, RoleARN: roleARN, Err: errors.New("sts returned no credentials")}
	}

	expires := r.now().Add(time.Hour)
	if out.Credentials.Expiration != nil {
		expires = *out.Credentials.Expiration
	}

	r.logger.Debug("assumed account role", "account", accountID, "role", roleARN, "expires", expires)

	return &ScopedCredentials{
		AccountID: accountID,
		RoleARN:   roleARN,
		Credentials: aws.Credentials{
			AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
			SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
			SessionToken:    aws.ToString(out.Credentials.SessionToken),
			Source:          "stack-discovery:" + roleARN,
			CanExpire:       true,
			Expires:         expires,
		},
		Expires: expires,
	}, nil
}

func sessionName(prefix string) string {
	if prefix == "" {
		prefix = "stack-discovery"
	}
	name := prefix + "-" + uuid.NewString()[:8]
	// AWS limit
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

var _ STSClient = (*sts.Client)(nil)

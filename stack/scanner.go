// Package stack scans the CloudFormation stacks of one account and region
// and recovers the declared properties of their resources from the stack
// templates.
package stack

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"golang.org/x/time/rate"
)

// CloudFormationClient defines the CloudFormation operations used by the scanner.
type CloudFormationClient interface {
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	ListStackResources(ctx context.Context, params *cloudformation.ListStackResourcesInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ListStackResourcesOutput, error)
	GetTemplate(ctx context.Context, params *cloudformation.GetTemplateInput, optFns ...func(*cloudformation.Options)) (*cloudformation.GetTemplateOutput, error)
}

// StackRecord is one stack as reported by DescribeStacks.
type StackRecord struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Status    string            `json:"status"`
	Tags      map[string]string `json:"tags,omitempty"`
	AccountID string            `json:"accountId"`
	Region    string            `json:"region"`
}

// ResourceSummary is one resource inside a stack.
type ResourceSummary struct {
	LogicalID  string `json:"logicalId"`
	PhysicalID string `json:"physicalId"`
	Type       string `json:"type"`
	Status     string `json:"status"`
}

// ScannedStack is everything the scanner learned about one in-scope stack.
type ScannedStack struct {
	Record    StackRecord
	Resources []ResourceSummary
	Template  TemplateDocument
}

// inScope is the allow-list of stack statuses whose stacks currently exist.
// Stacks that never finished creating, rolled back their creation or are
// being deleted are left out.
var inScope = map[cfntypes.StackStatus]bool{
	cfntypes.StackStatusCreateComplete:                          true,
	cfntypes.StackStatusUpdateInProgress:                        true,
	cfntypes.StackStatusUpdateCompleteCleanupInProgress:         true,
	cfntypes.StackStatusUpdateComplete:                          true,
	cfntypes.StackStatusUpdateRollbackInProgress:                true,
	cfntypes.StackStatusUpdateRollbackFailed:                    true,
	cfntypes.StackStatusUpdateRollbackCompleteCleanupInProgress: true,
	cfntypes.StackStatusUpdateRollbackComplete:                  true,
	cfntypes.StackStatusImportInProgress:                        true,
	cfntypes.StackStatusImportComplete:                          true,
	cfntypes.StackStatusImportRollbackInProgress:                true,
	cfntypes.StackStatusImportRollbackFailed:                    true,
	cfntypes.StackStatusImportRollbackComplete:                  true,
}

// InScope reports whether stacks in the given status are discovered.
func InScope(status string) bool {
	return inScope[cfntypes.StackStatus(status)]
}

// Scanner walks the stacks of a single account and region.
type Scanner struct {
	client    CloudFormationClient
	accountID string
	region    string
	logger    *slog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the scanner logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// WithRateLimiter makes every CloudFormation call wait on limiter first.
func WithRateLimiter(limiter *rate.Limiter) Option {
	return func(s *Scanner) {
		if limiter != nil {
			s.client = &throttledClient{next: s.client, limiter: limiter}
		}
	}
}

// NewClient builds a CloudFormation client for region using creds.
func NewClient(cfg aws.Config, region string, creds aws.CredentialsProvider) *cloudformation.Client {
	return cloudformation.NewFromConfig(cfg, func(o *cloudformation.Options) {
		o.Region = region
		o.Credentials = creds
	})
}

// NewScanner creates a Scanner for one account and region.
func NewScanner(client CloudFormationClient, accountID, region string, opts ...Option) *Scanner {
	s := &Scanner{
		client:    client,
		accountID: accountID,
		region:    region,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan returns a lazy sequence over the in-scope stacks of the account and
// region. Stacks outside the status allow-list are dropped without a yield.
//
// A failure confined to one stack (template or resource listing) is yielded
// as a *TemplateError or *StackFetchError and the scan carries on with the
// next stack. A DescribeStacks failure is yielded once and ends the
// sequence; it belongs to the whole account and region.
func (s *Scanner) Scan(ctx context.Context) iter.Seq2[*ScannedStack, error] {
	return func(yield func(*ScannedStack, error) bool) {
		p := cloudformation.NewDescribeStacksPaginator(s.client, &cloudformation.DescribeStacksInput{})
		for p.HasMorePages() {
			out, err := p.NextPage(ctx)
			if err != nil {
				yield(nil, fmt.Errorf("describe stacks in %s/%s: %w", s.accountID, s.region, err))
				return
			}
			for _, st := range out.Stacks {
				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return
				}
				rec := s.record(st)
				if !InScope(rec.Status) {
					s.logger.Debug("skipping out-of-scope stack", "account", s.accountID, "region", s.region, "stack", rec.Name, "status", rec.Status)
					continue
				}
				scanned, err := s.scanStack(ctx, rec)
				if !yield(scanned, err) {
					return
				}
			}
		}
	}
}

func (s *Scanner) scanStack(ctx context.Context, rec StackRecord) (*ScannedStack, error) {
	tplOut, err := s.client.GetTemplate(ctx, &cloudformation.GetTemplateInput{
		StackName:     aws.String(rec.ID),
		TemplateStage: cfntypes.TemplateStageProcessed,
	})
	if err != nil {
		return nil, &StackFetchError{StackID: rec.ID, StackName: rec.Name, Op: "GetTemplate", Err: err}
	}
	body := aws.ToString(tplOut.TemplateBody)
	if body == "" {
		return nil, &TemplateError{StackID: rec.ID, StackName: rec.Name, Err: errMissingBody}
	}
	tpl, err := ParseTemplate(body)
	if err != nil {
		return nil, &TemplateError{StackID: rec.ID, StackName: rec.Name, Err: err}
	}

	var resources []ResourceSummary
	p := cloudformation.NewListStackResourcesPaginator(s.client, &cloudformation.ListStackResourcesInput{
		StackName: aws.String(rec.ID),
	})
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, &StackFetchError{StackID: rec.ID, StackName: rec.Name, Op: "ListStackResources", Err: err}
		}
		for _, r := range out.StackResourceSummaries {
			resources = append(resources, ResourceSummary{
				LogicalID:  aws.ToString(r.LogicalResourceId),
				PhysicalID: aws.ToString(r.PhysicalResourceId),
				Type:       aws.ToString(r.ResourceType),
				Status:     string(r.ResourceStatus),
			})
		}
	}

	return &ScannedStack{Record: rec, Resources: resources, Template: tpl}, nil
}

func (s *Scanner) record(st cfntypes.Stack) StackRecord {
	tags := make(map[string]string, len(st.Tags))
	for _, t := range st.Tags {
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return StackRecord{
		ID:        aws.ToString(st.StackId),
		Name:      aws.ToString(st.StackName),
		Status:    string(st.StackStatus),
		Tags:      tags,
		AccountID: s.accountID,
		Region:    s.region,
	}
}

var errMissingBody = errors.New("template body is empty")

// throttledClient waits on a shared limiter before each call.
type throttledClient struct {
	next    CloudFormationClient
	limiter *rate.Limiter
}

func (c *throttledClient) DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.next.DescribeStacks(ctx, params, optFns...)
}

func (c *throttledClient) ListStackResources(ctx context.Context, params *cloudformation.ListStackResourcesInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ListStackResourcesOutput, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.next.ListStackResources(ctx, params, optFns...)
}

func (c *throttledClient) GetTemplate(ctx context.Context, params *cloudformation.GetTemplateInput, optFns ...func(*cloudformation.Options)) (*cloudformation.GetTemplateOutput, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.next.GetTemplate(ctx, params, optFns...)
}

var _ CloudFormationClient = (*cloudformation.Client)(nil)

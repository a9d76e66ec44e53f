// Package stacktest provides an in-memory CloudFormation fake for tests.
package stacktest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
)

// Stack is one fake stack.
type Stack struct {
	ID        string
	Name      string
	Status    cfntypes.StackStatus
	Tags      map[string]string
	Template  string
	Resources []cfntypes.StackResourceSummary

	// TemplateErr and ResourcesErr force the matching call to fail.
	TemplateErr  error
	ResourcesErr error
}

// Function returns a resource summary for a Lambda function.
func Function(logicalID, physicalID string) cfntypes.StackResourceSummary {
	return cfntypes.StackResourceSummary{
		LogicalResourceId:  aws.String(logicalID),
		PhysicalResourceId: aws.String(physicalID),
		ResourceType:       aws.String("AWS::Lambda::Function"),
		ResourceStatus:     cfntypes.ResourceStatusCreateComplete,
	}
}

// Resource returns a resource summary of an arbitrary type.
func Resource(logicalID, physicalID, typ string) cfntypes.StackResourceSummary {
	return cfntypes.StackResourceSummary{
		LogicalResourceId:  aws.String(logicalID),
		PhysicalResourceId: aws.String(physicalID),
		ResourceType:       aws.String(typ),
		ResourceStatus:     cfntypes.ResourceStatusCreateComplete,
	}
}

// FunctionTemplate returns a YAML template declaring one function per
// logical id with the given runtime.
func FunctionTemplate(runtime string, logicalIDs ...string) string {
	body := "Resources:\n"
	for _, id := range logicalIDs {
		body += fmt.Sprintf("  %s:\n    Type: AWS::Lambda::Function\n    Properties:\n      Runtime: %s\n      Handler: index.handler\n", id, runtime)
	}
	return body
}

// CloudFormation is a paginating in-memory CloudFormation API.
type CloudFormation struct {
	// Stacks is served by DescribeStacks, PageSize at a time.
	Stacks []Stack

	// PageSize applies to both DescribeStacks and ListStackResources; 0 means 1.
	PageSize int

	// DescribeErr fails DescribeStacks on the page with index DescribeErrPage.
	DescribeErr     error
	DescribeErrPage int

	mu    sync.Mutex
	calls map[string]int
}

// Calls returns how often op was invoked.
func (c *CloudFormation) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *CloudFormation) count(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[op]++
}

func (c *CloudFormation) pageSize() int {
	if c.PageSize <= 0 {
		return 1
	}
	return c.PageSize
}

func (c *CloudFormation) find(id string) (*Stack, error) {
	for i := range c.Stacks {
		if c.Stacks[i].ID == id || c.Stacks[i].Name == id {
			return &c.Stacks[i], nil
		}
	}
	return nil, fmt.Errorf("stack %s does not exist", id)
}

func offset(token *string) int {
	if token == nil {
		return 0
	}
	n, _ := strconv.Atoi(*token)
	return n
}

func next(start, size, total int) *string {
	if start+size >= total {
		return nil
	}
	return aws.String(strconv.Itoa(start + size))
}

// DescribeStacks implements stack.CloudFormationClient.
func (c *CloudFormation) DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	c.count("DescribeStacks")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := offset(params.NextToken)
	size := c.pageSize()
	if c.DescribeErr != nil && start/size == c.DescribeErrPage {
		return nil, c.DescribeErr
	}

	out := &cloudformation.DescribeStacksOutput{NextToken: next(start, size, len(c.Stacks))}
	for i := start; i < start+size && i < len(c.Stacks); i++ {
		s := c.Stacks[i]
		st := cfntypes.Stack{
			StackId:     aws.String(s.ID),
			StackName:   aws.String(s.Name),
			StackStatus: s.Status,
		}
		for k, v := range s.Tags {
			st.Tags = append(st.Tags, cfntypes.Tag{Key: aws.String(k), Value: aws.String(v)})
		}
		out.Stacks = append(out.Stacks, st)
	}
	return out, nil
}

// GetTemplate implements stack.CloudFormationClient.
func (c *CloudFormation) GetTemplate(ctx context.Context, params *cloudformation.GetTemplateInput, _ ...func(*cloudformation.Options)) (*cloudformation.GetTemplateOutput, error) {
	c.count("GetTemplate")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := c.find(aws.ToString(params.StackName))
	if err != nil {
		return nil, err
	}
	if s.TemplateErr != nil {
		return nil, s.TemplateErr
	}
	out := &cloudformation.GetTemplateOutput{}
	if s.Template != "" {
		out.TemplateBody = aws.String(s.Template)
	}
	return out, nil
}

// ListStackResources implements stack.CloudFormationClient.
func (c *CloudFormation) ListStackResources(ctx context.Context, params *cloudformation.ListStackResourcesInput, _ ...func(*cloudformation.Options)) (*cloudformation.ListStackResourcesOutput, error) {
	c.count("ListStackResources")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := c.find(aws.ToString(params.StackName))
	if err != nil {
		return nil, err
	}
	if s.ResourcesErr != nil {
		return nil, s.ResourcesErr
	}
	start := offset(params.NextToken)
	size := c.pageSize()
	out := &cloudformation.ListStackResourcesOutput{NextToken: next(start, size, len(s.Resources))}
	for i := start; i < start+size && i < len(s.Resources); i++ {
		out.StackResourceSummaries = append(out.StackResourceSummaries, s.Resources[i])
	}
	return out, nil
}

// ErrThrottled is a convenient API error for tests.
var ErrThrottled = errors.New("Throttling: Rate exceeded")

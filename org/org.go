// Package org enumerates the accounts of an AWS organization.
package org

import (
	"context"
	"fmt"
	"iter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
)

// OrganizationsClient defines the Organizations operations used by the enumerator.
type OrganizationsClient interface {
	ListAccounts(ctx context.Context, params *organizations.ListAccountsInput, optFns ...func(*organizations.Options)) (*organizations.ListAccountsOutput, error)
}

// StatusActive is the status of an account that can be scanned.
const StatusActive = "ACTIVE"

// Account is one member account of the organization.
type Account struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Active reports whether the account is in the ACTIVE state.
func (a Account) Active() bool { return a.Status == StatusActive }

// DiscoveryError is returned when the account listing cannot be completed.
// It is fatal to a refresh cycle: a partial account list is never usable.
type DiscoveryError struct {
	// Page is the zero-based page index that failed.
	Page int

	// Err is the underlying API error.
	Err error
}

// Error implements the error interface.
func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("list organization accounts (page %d): %v", e.Page, e.Err)
}

// Unwrap returns the underlying API error.
func (e *DiscoveryError) Unwrap() error { return e.Err }

// Enumerator lists organization accounts.
type Enumerator struct {
	client   OrganizationsClient
	pageSize int32
}

// NewEnumerator creates an Enumerator backed by the Organizations API.
func NewEnumerator(cfg aws.Config) *Enumerator {
	return NewEnumeratorWithClient(organizations.NewFromConfig(cfg))
}

// NewEnumeratorWithClient creates an Enumerator with a custom client.
func NewEnumeratorWithClient(client OrganizationsClient) *Enumerator {
	return &Enumerator{client: client, pageSize: 20}
}

// ListAccounts returns a lazy sequence over all accounts. A page is only
// requested once the consumer has drained the previous one, and each call
// starts a fresh listing. On failure the sequence yields a single
// *DiscoveryError and stops.
func (e *Enumerator) ListAccounts(ctx context.Context) iter.Seq2[Account, error] {
	return func(yield func(Account, error) bool) {
		p := organizations.NewListAccountsPaginator(e.client, &organizations.ListAccountsInput{
			MaxResults: aws.Int32(e.pageSize),
		})
		for page := 0; p.HasMorePages(); page++ {
			out, err := p.NextPage(ctx)
			if err != nil {
				yield(Account{}, &DiscoveryError{Page: page, Err: err})
				return
			}
			for _, a := range out.Accounts {
				if !yield(fromSDK(a), nil) {
					return
				}
			}
		}
	}
}

// Collect drains ListAccounts into a slice. Any error discards the
// accounts read so far.
func (e *Enumerator) Collect(ctx context.Context) ([]Account, error) {
	var accounts []Account
	for a, err := range e.ListAccounts(ctx) {
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

func fromSDK(a orgtypes.Account) Account {
	return Account{
		ID:     aws.ToString(a.Id),
		Name:   aws.ToString(a.Name),
		Status: string(a.Status),
	}
}

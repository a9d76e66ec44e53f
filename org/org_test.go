package org

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
)

// mockOrganizationsClient serves pages keyed by the incoming NextToken.
type mockOrganizationsClient struct {
	pages   [][]orgtypes.Account
	failAt  int // page index that returns an error, -1 for none
	calls   int
	lastMax *int32
}

func (m *mockOrganizationsClient) ListAccounts(_ context.Context, params *organizations.ListAccountsInput, _ ...func(*organizations.Options)) (*organizations.ListAccountsOutput, error) {
	idx := 0
	if params.NextToken != nil {
		fmt.Sscanf(*params.NextToken, "page-%d", &idx)
	}
	m.calls++
	m.lastMax = params.MaxResults
	if idx == m.failAt {
		return nil, errors.New("AccessDeniedException: not the management account")
	}
	out := &organizations.ListAccountsOutput{Accounts: m.pages[idx]}
	if idx+1 < len(m.pages) {
		out.NextToken = aws.String(fmt.Sprintf("page-%d", idx+1))
	}
	return out, nil
}

func account(id, name string, status orgtypes.AccountStatus) orgtypes.Account {
	return orgtypes.Account{Id: aws.String(id), Name: aws.String(name), Status: status}
}

func TestListAccountsPaginates(t *testing.T) {
	client := &mockOrganizationsClient{
		failAt: -1,
		pages: [][]orgtypes.Account{
			{account("111111111111", "orders", orgtypes.AccountStatusActive), account("222222222222", "billing", orgtypes.AccountStatusActive)},
			{account("333333333333", "legacy", orgtypes.AccountStatusSuspended)},
		},
	}
	e := NewEnumeratorWithClient(client)

	accounts, err := e.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect() error: %v", err)
	}
	if len(accounts) != 3 {
		t.Fatalf("expected 3 accounts, got %d", len(accounts))
	}
	if client.calls != 2 {
		t.Errorf("expected 2 page requests, got %d", client.calls)
	}
	if accounts[0].ID != "111111111111" || accounts[0].Name != "orders" || !accounts[0].Active() {
		t.Errorf("unexpected first account: %+v", accounts[0])
	}
	if accounts[2].Active() {
		t.Errorf("expected suspended account to be inactive: %+v", accounts[2])
	}
	if client.lastMax == nil || *client.lastMax != 20 {
		t.Errorf("expected page size 20, got %v", client.lastMax)
	}
}

func TestListAccountsIsLazy(t *testing.T) {
	client := &mockOrganizationsClient{
		failAt: -1,
		pages: [][]orgtypes.Account{
			{account("111111111111", "a", orgtypes.AccountStatusActive)},
			{account("222222222222", "b", orgtypes.AccountStatusActive)},
		},
	}
	e := NewEnumeratorWithClient(client)

	for range e.ListAccounts(context.Background()) {
		break
	}
	if client.calls != 1 {
		t.Errorf("expected only the first page to be fetched, got %d calls", client.calls)
	}
}

func TestListAccountsFailureIsDiscoveryError(t *testing.T) {
	client := &mockOrganizationsClient{
		failAt: 1,
		pages: [][]orgtypes.Account{
			{account("111111111111", "a", orgtypes.AccountStatusActive)},
			{account("222222222222", "b", orgtypes.AccountStatusActive)},
		},
	}
	e := NewEnumeratorWithClient(client)

	accounts, err := e.Collect(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if accounts != nil {
		t.Errorf("expected partial list to be discarded, got %v", accounts)
	}
	var de *DiscoveryError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DiscoveryError, got %T", err)
	}
	if de.Page != 1 {
		t.Errorf("expected failing page 1, got %d", de.Page)
	}
}

func TestListAccountsRestartsPerCall(t *testing.T) {
	client := &mockOrganizationsClient{
		failAt: -1,
		pages:  [][]orgtypes.Account{{account("111111111111", "a", orgtypes.AccountStatusActive)}},
	}
	e := NewEnumeratorWithClient(client)

	for i := 0; i < 2; i++ {
		if _, err := e.Collect(context.Background()); err != nil {
			t.Fatalf("Collect() error: %v", err)
		}
	}
	if client.calls != 2 {
		t.Errorf("expected each call to re-issue the listing, got %d calls", client.calls)
	}
}

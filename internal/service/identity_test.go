package service

import (
	"context"
	"testing"

	"github.com/sakif/dust/internal/model"
)

func TestResolveIdentity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mk := func(username, git string) *model.Account {
		a := &model.Account{Username: username, GitAccount: git}
		if err := env.db.CreateAccount(ctx, a); err != nil {
			t.Fatalf("CreateAccount(%q) error = %v", username, err)
		}
		return a
	}

	same := mk("linked", "linked")           // username == git_account, one account
	onlyName := mk("named", "")              // username match only
	onlyGit := mk("renamed-user", "ghonly")  // git_account match only
	nameHolder := mk("split", "")            // username "split" ...
	gitHolder := mk("someone-else", "split") // ... git_account "split" on another account

	tests := []struct {
		login       string
		wantKind    ResolutionKind
		wantAccount *model.Account
	}{
		{"nobody", ResolutionNewAccount, nil},
		{"linked", ResolutionExistingByUsername, same},
		{"named", ResolutionExistingByUsername, onlyName},
		{"ghonly", ResolutionExistingByExternalID, onlyGit},
		{"split", ResolutionAmbiguous, nil},
	}

	for _, tt := range tests {
		t.Run(tt.login, func(t *testing.T) {
			res, err := ResolveIdentity(ctx, env.db, tt.login)
			if err != nil {
				t.Fatalf("ResolveIdentity() error = %v", err)
			}
			if res.Kind != tt.wantKind {
				t.Fatalf("Kind = %s, want %s", res.Kind, tt.wantKind)
			}
			if tt.wantAccount == nil {
				if res.Account != nil {
					t.Errorf("Account = %+v, want nil", res.Account)
				}
				return
			}
			if res.Account == nil || res.Account.ID != tt.wantAccount.ID {
				t.Errorf("Account = %+v, want %q", res.Account, tt.wantAccount.ID)
			}
		})
	}

	res, _ := ResolveIdentity(ctx, env.db, "split")
	if res.ByUsername.ID != nameHolder.ID || res.ByExternalID.ID != gitHolder.ID {
		t.Errorf("ambiguous matches = %q/%q, want %q/%q",
			res.ByUsername.ID, res.ByExternalID.ID, nameHolder.ID, gitHolder.ID)
	}
}

func TestResolutionKind_String(t *testing.T) {
	if got := ResolutionAmbiguous.String(); got != "ambiguous" {
		t.Errorf("String() = %q, want ambiguous", got)
	}
	if got := ResolutionKind(42).String(); got != "ResolutionKind(42)" {
		t.Errorf("String() = %q", got)
	}
}

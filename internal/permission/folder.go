package permission

import (
	"context"
	"fmt"
	"os"
)

// FolderAuthorizer grants access to directories that exist and are
// writable by this process. Missing or read-only directories are put to
// the Prompter; on approval the directory is created and re-checked.
type FolderAuthorizer struct {
	prompter Prompter
}

// NewFolderAuthorizer returns an authorizer that asks p when access is missing.
func NewFolderAuthorizer(p Prompter) *FolderAuthorizer {
	return &FolderAuthorizer{prompter: p}
}

func (a *FolderAuthorizer) Query(_ context.Context, target string) (Decision, error) {
	info, err := os.Stat(target)
	if os.IsNotExist(err) {
		return Prompt, nil
	}
	if err != nil {
		return Denied, err
	}
	if !info.IsDir() {
		return Denied, nil
	}
	if writable(target) {
		return Granted, nil
	}
	return Prompt, nil
}

func (a *FolderAuthorizer) Request(ctx context.Context, target string) (Decision, error) {
	ok, err := a.prompter.Confirm(ctx, fmt.Sprintf("Allow picbreeder to write images to %s?", target))
	if err != nil {
		return Denied, err
	}
	if !ok {
		return Denied, nil
	}

	if err := os.MkdirAll(target, 0o755); err != nil {
		return Denied, fmt.Errorf("create %s: %w", target, err)
	}
	if writable(target) {
		return Granted, nil
	}
	return Denied, nil
}

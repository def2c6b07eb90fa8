package tasktype

// ReplaceWorkDir creates a fresh working directory for a task type and, once
// the transaction commits, removes the previous one. The new directory is in
// the request ledger so it disappears if the request fails.
func ReplaceWorkDir(hc *HookContext, prefix, old string) (string, error) {
	dir, err := hc.Storage.NewDir(prefix, hc.Ledger)
	if err != nil {
		return "", err
	}
	DropWorkDir(hc, old)
	return dir, nil
}

// DropWorkDir removes dir after commit. Failures are only logged.
func DropWorkDir(hc *HookContext, dir string) {
	if dir == "" {
		return
	}
	storage, log := hc.Storage, hc.Logger
	hc.AfterCommit(func() {
		if err := storage.RemoveAll(dir); err != nil {
			log.Error("failed to remove working directory", "dir", dir, "error", err)
		}
	})
}
